package continuation

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/payflow/internal/checkout/channel"
	"github.com/smallbiznis/payflow/internal/checkout/domain"
	"github.com/smallbiznis/payflow/internal/checkout/surface"
	"github.com/smallbiznis/payflow/internal/clock"
	"go.uber.org/zap"
)

// Failure patterns recognized during early error detection. Seeing one means
// the gateway already failed the attempt and submitting further is pointless.
const errorPathFragment = "/payment/error"

var (
	errClosedAction   = errors.New("form has no action")
	errRelativeAction = errors.New("relative form action with no base location")
)

var failureMarkers = []string{
	"TRANSACTION_FAILED",
	"AUTH_FAILED",
	"3DS_VERIFICATION_FAILED",
}

// Driver is the host-side backup for the injected continuation script. It
// re-inspects the surface at fixed offsets and submits the gateway's
// auto-redirect form when the script never got to run.
type Driver struct {
	hub    *channel.Hub
	client *http.Client
	clk    clock.Clock
	log    *zap.Logger
}

type DriverParams struct {
	Hub    *channel.Hub
	Client *http.Client
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewDriver(p DriverParams) *Driver {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 12 * time.Second}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		hub:    p.Hub,
		client: client,
		clk:    p.Clock,
		log:    log.Named("checkout.continuation"),
	}
}

// Run arms the submit retry ladder for the attempt. The returned Ladder must
// be stopped on session cleanup. onFailure receives the synthesized result
// when early error detection fires.
func (d *Driver) Run(handle *surface.Handle, orderNumber string, onFailure func(domain.ResultMessage)) *Ladder {
	var once sync.Once
	emitFailure := func(msg domain.ResultMessage) {
		once.Do(func() { onFailure(msg) })
	}

	rungs := make([]Rung, 0, 3)
	for _, offset := range DefaultSubmitOffsets() {
		rungs = append(rungs, Rung{
			Delay: offset,
			Action: func() {
				d.TriggerSubmit(handle, orderNumber, emitFailure)
			},
		})
	}
	return StartLadder(d.clk, rungs)
}

// TriggerSubmit performs one backup submit attempt. Inspection failures are
// expected whenever the content has moved to the bank's origin and are
// swallowed; this path only ever helps when the content happens to be
// accessible.
func (d *Driver) TriggerSubmit(handle *surface.Handle, orderNumber string, onFailure func(domain.ResultMessage)) {
	if handle == nil || handle.Closed() {
		return
	}

	markup, err := handle.Inspect()
	if err != nil {
		return
	}

	if msg, failed := d.DetectEarlyFailure(handle.Location(), markup, orderNumber); failed {
		d.log.Info("early failure pattern detected",
			zap.String("order_number", orderNumber),
			zap.String("error_code", msg.ErrorCode),
		)
		onFailure(msg)
		return
	}

	form, found := FindRedirectForm(ParseForms(markup))
	if !found {
		return
	}
	d.notify(orderNumber, domain.MessageTypeFormDetected)

	if err := d.submit(handle, form); err != nil {
		d.log.Debug("backup form submit failed",
			zap.String("order_number", orderNumber), zap.Error(err))
		return
	}
	d.notify(orderNumber, domain.MessageTypeFormSubmitted)
}

func (d *Driver) submit(handle *surface.Handle, form Form) error {
	action, err := d.resolveAction(handle, form.Action)
	if err != nil {
		return err
	}

	values := url.Values{}
	for name, value := range form.Fields {
		values.Set(name, value)
	}

	var resp *http.Response
	if form.Method == "POST" {
		resp, err = d.client.PostForm(action, values)
	} else {
		target := action
		if encoded := values.Encode(); encoded != "" {
			separator := "?"
			if strings.Contains(target, "?") {
				separator = "&"
			}
			target += separator + encoded
		}
		resp, err = d.client.Get(target)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	location := action
	if resp.Request != nil && resp.Request.URL != nil {
		location = resp.Request.URL.String()
	}
	return handle.Navigate(location, string(body))
}

func (d *Driver) resolveAction(handle *surface.Handle, action string) (string, error) {
	if action == "" {
		return "", errClosedAction
	}
	parsed, err := url.Parse(action)
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return action, nil
	}
	base := handle.Location()
	if base == "" {
		return "", errRelativeAction
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(parsed).String(), nil
}

// DetectEarlyFailure checks the surface location and visible markup for known
// failure patterns and synthesizes the failure result the message channel
// would eventually have carried.
func (d *Driver) DetectEarlyFailure(location, markup, orderNumber string) (domain.ResultMessage, bool) {
	code := ""
	if location != "" {
		if parsed, err := url.Parse(location); err == nil {
			if strings.Contains(parsed.Path, errorPathFragment) {
				code = parsed.Query().Get("error_code")
				if code == "" {
					code = domain.CodePaymentFailed
				}
			}
		}
	}
	if code == "" {
		for _, marker := range failureMarkers {
			if strings.Contains(markup, marker) {
				code = marker
				break
			}
		}
	}
	if code == "" {
		return domain.ResultMessage{}, false
	}
	return domain.ResultMessage{
		Channel:      domain.SourceDirect,
		Success:      false,
		OrderNumber:  orderNumber,
		ErrorCode:    code,
		ErrorMessage: "payment failed during 3-D Secure verification",
	}, true
}

func (d *Driver) notify(orderNumber, messageType string) {
	if d.hub == nil {
		return
	}
	d.hub.Publish(orderNumber, domain.Envelope{
		Type:        messageType,
		Source:      domain.SourceTag,
		OrderNumber: orderNumber,
	})
}
