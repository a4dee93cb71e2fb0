// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"golang.org/x/time/rate"

	"github.com/KodiakAI/KodiakChat/services/chatd/config"
	"github.com/KodiakAI/KodiakChat/services/chatd/datatypes"
)

const classQuota = "ProviderQuota"

// quotaPeriodTotal marks a counter that never resets.
const quotaPeriodTotal = "total"

var quotaFields = []graphql.Field{
	{Name: "provider"},
	{Name: "period"},
	{Name: "used"},
	{Name: "_additional { id }"},
}

// Quotas tracks metered provider usage in the ProviderQuota class. Counts
// survive restarts; a per-process rate limiter on top smooths bursts so a
// chatty session cannot drain a monthly budget in minutes.
//
// The read-modify-write on the counter is serialized per process. Multiple
// chatd replicas can slightly overcount under concurrency, which errs on
// the safe side of a billing limit.
type Quotas struct {
	client *weaviate.Client
	logger *slog.Logger

	mu       sync.Mutex
	limits   map[string]int
	limiters map[string]*rate.Limiter
}

// NewQuotas creates the quota tracker for the metered providers.
func NewQuotas(client *weaviate.Client, cfg *config.Config, logger *slog.Logger) (*Quotas, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Quotas{
		client: client,
		logger: logger,
		limits: map[string]int{
			ProviderTavily: cfg.TavilyMonthlyLimit,
			ProviderSerper: cfg.SerperTotalLimit,
		},
		// One request per 2s sustained, burst of 5.
		limiters: map[string]*rate.Limiter{
			ProviderTavily: rate.NewLimiter(rate.Every(2*time.Second), 5),
			ProviderSerper: rate.NewLimiter(rate.Every(2*time.Second), 5),
		},
	}, nil
}

// periodFor returns the accounting window key for a provider. Serper sells
// a one-time credit pool, Tavily resets monthly.
func periodFor(provider string, now time.Time) string {
	if provider == ProviderTavily {
		return now.UTC().Format("2006-01")
	}
	return quotaPeriodTotal
}

// Allow applies the per-process smoothing limiter. A false return means
// the call should be skipped now even though budget remains.
func (q *Quotas) Allow(provider string) bool {
	q.mu.Lock()
	limiter, ok := q.limiters[provider]
	q.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// Remaining reports how many calls are left in the provider's current
// accounting window. Unmetered providers report -1.
func (q *Quotas) Remaining(ctx context.Context, provider string) (int, error) {
	limit, metered := q.limits[provider]
	if !metered {
		return -1, nil
	}

	used, _, err := q.lookup(ctx, provider, periodFor(provider, time.Now()))
	if err != nil {
		return 0, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume records one successful call against the provider's counter.
func (q *Quotas) Consume(ctx context.Context, provider string) error {
	if _, metered := q.limits[provider]; !metered {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	period := periodFor(provider, time.Now())
	used, weaviateID, err := q.lookup(ctx, provider, period)
	if err != nil {
		return err
	}

	if weaviateID == "" {
		props := datatypes.ProviderQuotaProperties{Provider: provider, Period: period, Used: 1}
		_, err := q.client.Data().Creator().
			WithClassName(classQuota).
			WithProperties(props.ToMap()).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("creating quota counter for %s: %w", provider, err)
		}
		return nil
	}

	err = q.client.Data().Updater().
		WithMerge().
		WithClassName(classQuota).
		WithID(weaviateID).
		WithProperties(map[string]interface{}{"used": used + 1}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("updating quota counter for %s: %w", provider, err)
	}
	return nil
}

// Status reports every metered provider's current window.
func (q *Quotas) Status(ctx context.Context) ([]datatypes.QuotaStatus, error) {
	now := time.Now()
	var statuses []datatypes.QuotaStatus
	for _, provider := range []string{ProviderTavily, ProviderSerper} {
		limit := q.limits[provider]
		period := periodFor(provider, now)
		used, _, err := q.lookup(ctx, provider, period)
		if err != nil {
			return nil, err
		}
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, datatypes.QuotaStatus{
			Provider:  provider,
			Period:    period,
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

// lookup returns the used count and Weaviate object ID for one counter.
// A missing counter returns (0, "", nil).
func (q *Quotas) lookup(ctx context.Context, provider, period string) (int, string, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"provider"}).
				WithOperator(filters.Equal).
				WithValueString(provider),
			filters.Where().
				WithPath([]string{"period"}).
				WithOperator(filters.Equal).
				WithValueString(period),
		})

	result, err := q.client.GraphQL().Get().
		WithClassName(classQuota).
		WithFields(quotaFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("querying quota for %s: %w", provider, err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return 0, "", fmt.Errorf("querying quota for %s: %s", provider, result.Errors[0].Message)
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return 0, "", fmt.Errorf("marshaling quota query data: %w", err)
	}
	var resp struct {
		Get struct {
			ProviderQuota []datatypes.ProviderQuotaResult `json:"ProviderQuota"`
		} `json:"Get"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, "", fmt.Errorf("unmarshaling quota query data: %w", err)
	}
	rows := resp.Get.ProviderQuota
	if len(rows) == 0 {
		return 0, "", nil
	}

	used := 0
	if rows[0].Used != nil {
		used = *rows[0].Used
	}
	return used, rows[0].Additional.ID, nil
}
