package surface

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodePayload(t *testing.T) {
	markup := "<html><body><form action=\"/3ds\"></form></body></html>"
	encoded := base64.StdEncoding.EncodeToString([]byte(markup))

	// 1. Base64-encoded markup is decoded.
	assert.Equal(t, markup, DecodePayload(encoded))

	// 2. Plain markup passes through untouched, even when its length happens
	// to be a multiple of four.
	plain := "<div>pay now</div><p>.</p>"
	assert.Equal(t, plain, DecodePayload(plain))

	// 3. Base64 that does not decode to markup is left alone.
	opaque := base64.StdEncoding.EncodeToString([]byte("just a token value"))
	assert.Equal(t, opaque, DecodePayload(opaque))

	// 4. Whitespace around the payload does not defeat detection.
	assert.Equal(t, markup, DecodePayload("  "+encoded+"\n"))

	// 5. Short or non-base64 strings pass through.
	assert.Equal(t, "abc=", DecodePayload("abc="))
	assert.Equal(t, "hello world!", DecodePayload("hello world!"))
}

func TestInjectContinuationScript(t *testing.T) {
	script := "<script>" + ContinuationScript + "</script>"

	withHead := "<html><head><title>3DS</title></head><body></body></html>"
	injected := InjectContinuationScript(withHead)
	assert.True(t, strings.HasPrefix(injected, "<html><head>"+script))

	// Uppercase tags still match.
	upper := "<HTML><HEAD></HEAD><BODY></BODY></HTML>"
	injected = InjectContinuationScript(upper)
	assert.Equal(t, "<HTML><HEAD>"+script+"</HEAD><BODY></BODY></HTML>", injected)

	// No head: the script lands just before the closing html tag.
	noHead := "<html><body>challenge</body></html>"
	injected = InjectContinuationScript(noHead)
	assert.Equal(t, "<html><body>challenge</body>"+script+"</html>", injected)

	// Fragment markup: prepend.
	fragment := "<form action=\"/3ds\"></form>"
	assert.Equal(t, script+fragment, InjectContinuationScript(fragment))
}

func TestDefaultStrategiesOrder(t *testing.T) {
	strategies := DefaultStrategies(NewBlobStore(0))

	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"object-uri", "direct-assign", "data-uri"}, names)

	// Only the last-resort data URI carries the distinct fallback styling.
	assert.False(t, strategies[0].FallbackStyle())
	assert.False(t, strategies[1].FallbackStyle())
	assert.True(t, strategies[2].FallbackStyle())
}

func TestObjectURIStrategy(t *testing.T) {
	blobs := NewBlobStore(64)
	strategy := &ObjectURIStrategy{Blobs: blobs}

	ref, err := strategy.Deliver("surface-1", "<html>small</html>")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "/surface/blob/"))

	key := strings.TrimPrefix(ref, "/surface/blob/")
	html, ok := blobs.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "<html>small</html>", html)

	// Oversized documents are refused so the next strategy gets a turn.
	_, err = strategy.Deliver("surface-1", strings.Repeat("x", 65))
	assert.Error(t, err)

	// No blob store at all is a delivery failure, not a panic.
	_, err = (&ObjectURIStrategy{}).Deliver("surface-1", "<html></html>")
	assert.Error(t, err)
}

func TestDirectAssignStrategy(t *testing.T) {
	strategy := &DirectAssignStrategy{}

	ref, err := strategy.Deliver("surface-2", "<html></html>")
	assert.NoError(t, err)
	assert.Equal(t, "inline:surface-2", ref)

	_, err = strategy.Deliver("surface-2", "   \n")
	assert.Error(t, err)
}

func TestDataURIStrategy(t *testing.T) {
	strategy := &DataURIStrategy{}

	ref, err := strategy.Deliver("surface-3", "<html>challenge</html>")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "data:text/html,"))
	// The visible fallback styling is baked into the encoded document.
	assert.Contains(t, ref, "%3Cstyle%3E")
}
