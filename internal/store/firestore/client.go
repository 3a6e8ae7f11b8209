// Package firestore persists imports, sessions and custom formats in Cloud
// Firestore.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/rumor-ml/commons.systems/finimport/internal/store"
)

// Collection names
const (
	TransactionsCollection = "import-transactions"
	SessionsCollection     = "import-sessions"
	BatchesCollection      = "import-batches"
	FormatsCollection      = "import-formats"
)

// Client wraps the Firestore client with import-specific operations
type Client struct {
	Firestore *firestore.Client
	projectID string
}

var _ store.Backend = (*Client)(nil)

// NewClient creates a new Firestore client. credentialsFile is optional;
// Application Default Credentials are used when it is empty.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID cannot be empty")
	}
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &Client{Firestore: fsClient, projectID: projectID}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// ProjectID returns the Firestore project.
func (c *Client) ProjectID() string {
	return c.projectID
}
