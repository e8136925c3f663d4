// Package providertest provides a scripted provider adapter for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
)

type Fake struct {
	mu      sync.Mutex
	name    model.Provider
	sends   []provider.SendRequest
	Err     error
	History []provider.Message
}

func New(name model.Provider) *Fake { return &Fake{name: name} }

var _ provider.Adapter = (*Fake)(nil)

func (f *Fake) Name() model.Provider { return f.name }

func (f *Fake) ListMessages(context.Context, provider.Filter) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Message(nil), f.History...), nil
}

func (f *Fake) Send(_ context.Context, req provider.SendRequest) (provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.Err != nil {
		return provider.SendResult{}, f.Err
	}
	return provider.SendResult{MessageID: fmt.Sprintf("%s-%d", f.name, len(f.sends))}, nil
}

func (f *Fake) Sends() []provider.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.SendRequest(nil), f.sends...)
}
