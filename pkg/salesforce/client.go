// Package salesforce provides JWT-authenticated REST API access to Salesforce.
package salesforce

import (
	"context"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Salesforce API operations used by lead sync.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for SF API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfClient wraps go-salesforce. The library takes no context, so ctx only
// bounds the rate limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// Creds are the JWT bearer-flow credentials.
type Creds struct {
	LoginURL       string
	Username       string
	ConsumerKey    string
	ConsumerRSAPem string
}

// Connect authenticates with the JWT bearer flow and returns a Client.
func Connect(creds Creds, opts ...ClientOption) (Client, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ConsumerKey,
		ConsumerRSAPem: creds.ConsumerRSAPem,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: init")
	}
	return NewClient(sf, opts...), nil
}

// NewClient wraps an initialized go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "sf: rate limit")
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(err, "sf: query")
	}
	return nil
}

func (c *sfClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	result, err := c.sf.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrapf(err, "sf: insert %s", sObjectName)
	}
	if !result.Success {
		return "", eris.Errorf("sf: insert %s failed: %v", sObjectName, result.Errors)
	}
	return result.Id, nil
}

func (c *sfClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["Id"] = id
	if err := c.sf.UpdateOne(sObjectName, record); err != nil {
		return eris.Wrapf(err, "sf: update %s %s", sObjectName, id)
	}
	return nil
}
