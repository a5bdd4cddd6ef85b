package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	supa "github.com/nedpals/supabase-go"
)

const supabaseUploadTimeout = 10 * time.Second

// SupabaseClient uploads run summaries to a Supabase table, mirroring
// supabase.Client: it hides the open-source client library, applies the
// configured schema as request headers, and wraps every call in a timeout
// since the underlying library has no timeout support of its own.
type SupabaseClient struct {
	url     string
	anonKey string
	schema  string

	subClient       *supa.Client
	shouldReconnect bool
	logger          *slog.Logger
}

var _ SupabaseSyncer = (*SupabaseClient)(nil)

// NewSupabaseClient builds a client targeting the given project. The
// connection is made lazily on the first upload, matching
// supabase.Client.New's shouldReconnect-from-construction pattern.
func NewSupabaseClient(url, anonKey, schema string) *SupabaseClient {
	return &SupabaseClient{
		url:             url,
		anonKey:         anonKey,
		schema:          schema,
		shouldReconnect: true,
		logger:          slog.Default().With("component", "store.supabase", "host", url),
	}
}

// UploadDecisions inserts the given rows into the "dispatch_decisions" table.
func (c *SupabaseClient) UploadDecisions(rows []StoredDecision) error {
	return c.upload("dispatch_decisions", rows)
}

// UploadMonthCloses inserts the given rows into the "dispatch_month_closes" table.
func (c *SupabaseClient) UploadMonthCloses(rows []StoredMonthClose) error {
	return c.upload("dispatch_month_closes", rows)
}

func (c *SupabaseClient) upload(table string, rows interface{}) error {
	c.reconnectIfNecessary()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.subClient.DB.From(table).Insert(rows).Execute(nil)
	}()

	select {
	case <-time.After(supabaseUploadTimeout):
		c.shouldReconnect = true
		return errors.New("supabase upload timed out")
	case err := <-errCh:
		if err != nil {
			c.shouldReconnect = true
			return fmt.Errorf("upload to %s: %w", table, err)
		}
		return nil
	}
}

// reconnectIfNecessary (re)creates the underlying client when a previous
// call flagged the connection dirty, mirroring
// supabase.Client.reconnectIfNeccesary.
func (c *SupabaseClient) reconnectIfNecessary() {
	if !c.shouldReconnect {
		return
	}

	subClient := supa.CreateClient(c.url, c.anonKey)
	subClient.DB.AddHeader("Accept-Profile", c.schema)
	subClient.DB.AddHeader("Content-Profile", c.schema)

	c.subClient = subClient
	c.shouldReconnect = false

	c.logger.Info("Reconnected Supabase client")
}
