package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/internal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const readyTimeout = 20 * time.Second

// TestHarness owns the source database, the object store holding schema
// documents and the field inventory used by end-to-end tests.
type TestHarness struct {
	PGContainer testcontainers.Container
	PGDSN       string
	PGDB        *sql.DB
	S3Container testcontainers.Container
	S3Endpoint  string
	S3Client    *s3.Client
	Inventory   *internal.InventoryStore
}

type serviceContainer struct {
	image string
	port  string
	env   map[string]string
}

// start runs the container and returns it with its mapped host:port.
func (c serviceContainer) start(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        c.image,
			ExposedPorts: []string{c.port + "/tcp"},
			Env:          c.env,
			WaitingFor:   wait.ForListeningPort(nat.Port(c.port + "/tcp")).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start %s: %w", c.image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(c.port))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

// waitReady polls probe until it succeeds, ctx ends or readyTimeout passes.
func waitReady(ctx context.Context, what string, probe func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := probe(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s did not become ready: %w", what, err)
		case <-ticker.C:
		}
	}
}

// StartPostgres starts the schema source database and returns its DSN once a
// query against it succeeds. Call StopPostgres when done.
func (h *TestHarness) StartPostgres(ctx context.Context) (string, error) {
	container, addr, err := serviceContainer{
		image: "postgres:16",
		port:  "5432",
		env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "metaeditor",
		},
	}.start(ctx)
	if err != nil {
		return "", err
	}
	h.PGContainer = container
	h.PGDSN = fmt.Sprintf("postgres://postgres:password@%s/metaeditor?sslmode=disable", addr)

	db, err := sql.Open("postgres", h.PGDSN)
	if err != nil {
		return "", err
	}
	// The listening port opens before the init scripts finish; wait for a real query.
	if err := waitReady(ctx, "postgres", func(ctx context.Context) error {
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	}); err != nil {
		db.Close()
		return "", err
	}
	h.PGDB = db
	return h.PGDSN, nil
}

// StopPostgres closes the database handle and removes the container.
func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGDB != nil {
		h.PGDB.Close()
		h.PGDB = nil
	}
	if h.PGContainer == nil {
		return nil
	}
	err := h.PGContainer.Terminate(ctx)
	h.PGContainer = nil
	return err
}

// StartS3 starts an S3-compatible object store and returns its endpoint once
// an authenticated ListBuckets call succeeds.
func (h *TestHarness) StartS3(ctx context.Context) (string, error) {
	container, addr, err := serviceContainer{
		image: "rustfs/rustfs:latest",
		port:  "9000",
		env: map[string]string{
			"RUSTFS_ACCESS_KEY": S3AccessKey,
			"RUSTFS_SECRET_KEY": S3SecretKey,
		},
	}.start(ctx)
	if err != nil {
		return "", err
	}
	h.S3Container = container
	h.S3Endpoint = "http://" + addr

	client, err := newS3Client(ctx, h.S3Endpoint)
	if err != nil {
		return "", err
	}
	if err := waitReady(ctx, "s3", func(ctx context.Context) error {
		_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
		return err
	}); err != nil {
		return "", err
	}
	h.S3Client = client
	return h.S3Endpoint, nil
}

// StopS3 removes the object store container.
func (h *TestHarness) StopS3(ctx context.Context) error {
	h.S3Client = nil
	if h.S3Container == nil {
		return nil
	}
	err := h.S3Container.Terminate(ctx)
	h.S3Container = nil
	return err
}

// S3Config returns the object store settings a registry needs to fetch fixtures.
func (h *TestHarness) S3Config() metaeditor.S3Config {
	return metaeditor.S3Config{
		Region:       "us-east-1",
		Endpoint:     h.S3Endpoint,
		AccessKey:    S3AccessKey,
		SecretKey:    S3SecretKey,
		UsePathStyle: true,
	}
}

// StartInventory opens the DuckDB field inventory.
func (h *TestHarness) StartInventory(ctx context.Context, cfg metaeditor.InventoryConfig) error {
	store, err := internal.OpenInventoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	h.Inventory = store
	return nil
}

// StopInventory closes the inventory store.
func (h *TestHarness) StopInventory() error {
	if h.Inventory == nil {
		return nil
	}
	err := h.Inventory.Close()
	h.Inventory = nil
	return err
}
