// Package capture records a plaintext HTTP exchange as a transcript. It
// stands in for the secure channel: the bytes it records are the ones a
// prover would have sent and received over TLS.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"tlsn-notary/transcript"
)

// MaxResponseSize bounds the response body recorded by Exchange.
const MaxResponseSize = 8 << 20

// Exchange sends req with client and returns the request as written to the
// wire and the raw response as the sent and received directions.
func Exchange(ctx context.Context, client *http.Client, req *http.Request) (*transcript.Transcript, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	req = req.WithContext(ctx)

	sent, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, MaxResponseSize), resp.Body}

	received, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}
	return transcript.New(sent, received), nil
}

// Get records a GET of url.
func Get(ctx context.Context, client *http.Client, url string, header http.Header) (*transcript.Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return Exchange(ctx, client, req)
}
