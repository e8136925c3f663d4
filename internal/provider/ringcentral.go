package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/credential"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

const (
	rcSMSPath          = "/restapi/v1.0/account/~/extension/~/sms"
	rcMessageStorePath = "/restapi/v1.0/account/~/extension/~/message-store"
)

var ErrCircuitOpen = errors.New("circuit open")

type rcPhone struct {
	PhoneNumber string     `json:"phoneNumber"`
	Country     *rcCountry `json:"country,omitempty"`
}

type rcCountry struct {
	IsoCode string `json:"isoCode"`
}

// sendVariant is one request shape for the SMS endpoint. The endpoint accepts
// different shapes on different accounts, so they are tried in order.
type sendVariant struct {
	name  string
	build func(from, to, text string) any
}

var sendVariants = []sendVariant{
	{
		name: "e164-objects",
		build: func(from, to, text string) any {
			return map[string]any{
				"from": rcPhone{PhoneNumber: util.ForTwilio(from)},
				"to":   []rcPhone{{PhoneNumber: util.ForTwilio(to)}},
				"text": text,
			}
		},
	},
	{
		name: "digits-objects",
		build: func(from, to, text string) any {
			return map[string]any{
				"from": rcPhone{PhoneNumber: util.ForRingCentral(from)},
				"to":   []rcPhone{{PhoneNumber: util.ForRingCentral(to)}},
				"text": text,
			}
		},
	},
	{
		name: "e164-strings",
		build: func(from, to, text string) any {
			return map[string]any{
				"from": util.ForTwilio(from),
				"to":   []string{util.ForTwilio(to)},
				"text": text,
			}
		},
	},
	{
		name: "e164-objects-country",
		build: func(from, to, text string) any {
			us := &rcCountry{IsoCode: "US"}
			return map[string]any{
				"from": rcPhone{PhoneNumber: util.ForTwilio(from), Country: us},
				"to":   []rcPhone{{PhoneNumber: util.ForTwilio(to), Country: us}},
				"text": text,
			}
		},
	},
}

type RingCentralConfig struct {
	BaseURL       string
	Timeout       time.Duration
	PageSize      int
	FailThreshold int
	OpenFor       time.Duration
}

// RingCentral talks to the RingCentral REST API with a per-studio bearer token.
type RingCentral struct {
	baseURL  string
	pageSize int
	client   *http.Client
	creds    credential.Source
	br       *Breaker
	variants []sendVariant
	log      *zap.Logger
}

func NewRingCentral(cfg RingCentralConfig, creds credential.Source, log *zap.Logger) *RingCentral {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	return &RingCentral{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: cfg.PageSize,
		client:   &http.Client{Timeout: cfg.Timeout},
		creds:    creds,
		br:       NewBreaker(cfg.FailThreshold, cfg.OpenFor),
		variants: sendVariants,
		log:      log,
	}
}

func (r *RingCentral) Name() model.Provider { return model.ProviderRingCentral }

func (r *RingCentral) token(ctx context.Context, studioID string) (string, error) {
	acc, err := r.creds.Get(ctx, studioID, model.PlatformRingCentral)
	if err != nil {
		return "", err
	}
	return acc.AccessToken, nil
}

// Send walks the request-shape variants until one is accepted.
func (r *RingCentral) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	tok, err := r.token(ctx, req.StudioID)
	if err != nil {
		return SendResult{}, err
	}
	if !r.br.Acquire() {
		return SendResult{}, apperr.ExternalService("ringcentral.send", ErrCircuitOpen)
	}

	var errs []error
	for _, v := range r.variants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		id, err := r.post(ctx, tok, v.build(req.From, req.To, req.Body))
		if err == nil {
			metrics.ProviderSendAttempts.WithLabelValues(model.ProviderRingCentral.String(), v.name, "ok").Inc()
			r.br.Done(nil)
			return SendResult{MessageID: id}, nil
		}
		metrics.ProviderSendAttempts.WithLabelValues(model.ProviderRingCentral.String(), v.name, "failed").Inc()
		r.log.Debug("ringcentral send variant rejected",
			zap.String("variant", v.name),
			zap.String("studio_id", req.StudioID),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", v.name, err))
	}

	all := errors.Join(errs...)
	r.br.Done(all)
	return SendResult{}, apperr.ExternalService("ringcentral.send", all)
}

func (r *RingCentral) post(ctx context.Context, tok string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+rcSMSPath, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("status=%d body=%s", res.StatusCode, truncate(body, 200))
	}

	var out struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	id := strings.Trim(string(out.ID), `"`)
	if id == "" || id == "null" {
		return "", fmt.Errorf("send response has no id")
	}
	return id, nil
}

type rcRecord struct {
	ID               json.Number `json:"id"`
	From             rcParty     `json:"from"`
	To               []rcParty   `json:"to"`
	Subject          string      `json:"subject"`
	Direction        string      `json:"direction"`
	MessageStatus    string      `json:"messageStatus"`
	CreationTime     string      `json:"creationTime"`
	LastModifiedTime string      `json:"lastModifiedTime"`
}

type rcParty struct {
	PhoneNumber string `json:"phoneNumber"`
}

// ListMessages fetches the SMS history with one counter-party. History per
// contact is bounded, so a single large page is requested.
func (r *RingCentral) ListMessages(ctx context.Context, f Filter) ([]Message, error) {
	phone := util.ForRingCentral(f.Phone)
	if phone == "" {
		return nil, apperr.Validation("ringcentral.list", "phone is required")
	}
	tok, err := r.token(ctx, f.StudioID)
	if err != nil {
		return nil, err
	}
	if !r.br.Acquire() {
		return nil, apperr.ExternalService("ringcentral.list", ErrCircuitOpen)
	}

	q := url.Values{}
	q.Set("messageType", "SMS")
	q.Set("phoneNumber", phone)
	q.Set("perPage", strconv.Itoa(r.pageSize))

	records, err := r.get(ctx, tok, r.baseURL+rcMessageStorePath+"?"+q.Encode())
	r.br.Done(err)
	if err != nil {
		return nil, apperr.ExternalService("ringcentral.list", err)
	}

	out := make([]Message, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRingCentral(rec))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (r *RingCentral) get(ctx context.Context, tok, u string) ([]rcRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("status=%d body=%s", res.StatusCode, truncate(body, 200))
	}

	var page struct {
		Records []rcRecord `json:"records"`
	}
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode message store: %w", err)
	}
	return page.Records, nil
}

func fromRingCentral(rec rcRecord) Message {
	m := Message{
		Provider:  model.ProviderRingCentral,
		ID:        rec.ID.String(),
		From:      util.NormalizePhone(rec.From.PhoneNumber),
		Body:      rec.Subject,
		Direction: model.DirectionOutbound,
		Status:    model.StatusSent,
	}
	if len(rec.To) > 0 {
		m.To = util.NormalizePhone(rec.To[0].PhoneNumber)
	}
	if strings.EqualFold(rec.Direction, "Inbound") {
		m.Direction = model.DirectionInbound
		m.Status = model.StatusReceived
	}
	switch rec.MessageStatus {
	case "SendingFailed", "DeliveryFailed":
		m.Status = model.StatusFailed
	}
	for _, raw := range []string{rec.CreationTime, rec.LastModifiedTime} {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			m.SentAt = ts.UTC()
			break
		}
	}
	return m
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
