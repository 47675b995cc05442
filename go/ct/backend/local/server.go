// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
)

const (
	serverPostAttempts     = 5
	serverPostInitialDelay = 100 * time.Millisecond
	serverRequestTimeout   = 20 * time.Second
)

// ServerTransition posts transitions to a running t8n server.
type ServerTransition struct {
	url    string
	client *http.Client
	// newBackOff creates the retry policy for connection failures.
	newBackOff func() backoff.BackOff
	log        log.Logger
}

// NewServerTransition creates a transition using the t8n server at url.
func NewServerTransition(url string) *ServerTransition {
	return &ServerTransition{
		url:        url,
		client:     &http.Client{Timeout: serverRequestTimeout},
		newBackOff: defaultServerBackOff,
		log:        log.New("backend", "t8n-server", "url", url),
	}
}

// defaultServerBackOff retries a failed connection four times, doubling the
// delay between attempts starting from 100ms.
func defaultServerBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = serverPostInitialDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	return backoff.WithMaxRetries(policy, serverPostAttempts-1)
}

func (t *ServerTransition) Apply(ctx context.Context, input Input) (*Output, error) {
	request, err := makeT8nInput(input)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(t8nRequest{
		State: t8nState{
			Fork:    t8nForkName(input.Fork),
			ChainID: input.ChainID,
			Reward:  input.Reward,
		},
		Input: request,
	})
	if err != nil {
		return nil, err
	}

	response, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	output := &t8nOutput{}
	if err := json.Unmarshal(response, output); err != nil {
		return nil, fmt.Errorf("invalid t8n server response: %w", err)
	}
	return output.toOutput(input), nil
}

// post sends the request, retrying on connection failures. Once all
// attempts failed the server is considered unavailable.
func (t *ServerTransition) post(ctx context.Context, body []byte) ([]byte, error) {
	var response []byte
	attempt := 0
	unreachable := false
	operation := func() error {
		attempt++
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		request.Header.Set("Content-Type", "application/json")
		resp, err := t.client.Do(request)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			t.log.Debug("t8n server not reachable", "attempt", attempt, "err", err)
			unreachable = true
			return err
		}
		unreachable = false
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("t8n server returned status code %d, response: %s", resp.StatusCode, data))
		}
		response = data
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(t.newBackOff(), ctx))
	if err == nil {
		return response, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if unreachable {
		return nil, fmt.Errorf("%w: %w", ct.ErrBackendUnavailable, err)
	}
	return nil, err
}
