package finalizer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	zipkinmodel "github.com/openzipkin/zipkin-go/model"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Forwarder posts completed traces as zipkin v2 JSON to an endpoint, backing
// off and retrying on network errors, 429s and 5xx responses.
type Forwarder struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	retrier  *retrier
}

func NewForwarder(cfg Config) *Forwarder {
	return &Forwarder{
		endpoint: cfg.ForwardEndpoint,
		timeout:  cfg.ForwardTimeout,
		client:   &http.Client{},
		retrier:  newRetrier("zipkin", cfg),
	}
}

func (f *Forwarder) Finalize(ctx context.Context, tr *Trace) error {
	zs := make([]*zipkinmodel.SpanModel, 0, len(tr.Spans))
	for _, s := range tr.Spans {
		z, err := s.ToZipkin()
		if err != nil {
			return errors.Wrapf(err, "trace %s", tr.ID)
		}
		zs = append(zs, z)
	}

	body, err := json.Marshal(zs)
	if err != nil {
		return errors.Wrapf(err, "failed to encode trace %s", tr.ID)
	}

	return f.retrier.do(ctx, tr.ID, func(ctx context.Context) error {
		return f.send(ctx, body)
	})
}

func (f *Forwarder) send(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: string(msg)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
