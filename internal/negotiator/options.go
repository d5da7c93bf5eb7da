package negotiator

import (
	"net/http"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// Handler receives every inbound event in transport order. It runs on a
// transport goroutine and must not call Disconnect synchronously.
type Handler func(realtime.Event)

// Option configures a [Negotiator] or a [RelayClient]. Options that only make
// sense for the peer transport are ignored by the relay client.
type Option func(*options)

type options struct {
	onEvent    Handler
	onState    func(realtime.Transition)
	metrics    *observe.Metrics
	capturer   audio.Capturer
	encoder    audio.Encoder
	newDecoder func() (audio.Decoder, error)
	sink       audio.Sink
	header     http.Header
	httpClient *http.Client
}

// WithEventHandler sets the inbound event callback.
func WithEventHandler(h Handler) Option {
	return func(o *options) { o.onEvent = h }
}

// WithStateObserver is called after every state transition, outside any lock.
func WithStateObserver(f func(realtime.Transition)) Option {
	return func(o *options) { o.onState = f }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAudioInput sets the microphone capturer and the encoder that turns its
// frames into track packets. Required for the peer transport.
func WithAudioInput(c audio.Capturer, enc audio.Encoder) Option {
	return func(o *options) {
		o.capturer = c
		o.encoder = enc
	}
}

// WithAudioOutput renders remote audio: newDecoder is called once per remote
// track and every decoded frame is written to sink. Without it remote audio is
// discarded.
func WithAudioOutput(newDecoder func() (audio.Decoder, error), sink audio.Sink) Option {
	return func(o *options) {
		o.newDecoder = newDecoder
		o.sink = sink
	}
}

// WithDialHeader adds a header to the relay WebSocket handshake.
func WithDialHeader(key, value string) Option {
	return func(o *options) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Add(key, value)
	}
}

// WithHTTPClient sets the client used for the relay WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}
