package connector_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"

	// Import connectors to register them
	_ "github.com/ajitpratap0/interlink/pkg/connector/adapters/delimited"
)

// Example reads a delimited file through the registry and splits it into records.
func Example() {
	root, err := os.MkdirTemp("", "interlink-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	incoming := filepath.Join(root, "orders", "incoming")
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(incoming, "batch-1.csv"), []byte("id,status\n1,open\n2,shipped\n"), 0o644); err != nil {
		log.Fatal(err)
	}

	inst := &models.AdapterInstance{
		InstanceID:    uuid.New(),
		Name:          "orders-files",
		InterfaceName: "orders",
		Role:          models.RoleSource,
		AdapterType:   models.AdapterFileDelimited,
		IsEnabled:     true,
		Settings:      map[string]string{"root": root, "separator": "comma"},
	}

	ctx := context.Background()
	adapter, err := registry.Create(ctx, inst, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer adapter.Close(ctx)

	batches, err := adapter.Read(ctx, "orders")
	if err != nil {
		log.Fatal(err)
	}
	for _, b := range batches {
		columns, records, err := debatch.Debatch(b.Raw, b.Options)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(columns)
		for _, r := range records {
			fmt.Println(r.Ordered())
		}
		// Move the file to processed/ once its records are staged
		if err := b.Commit(ctx); err != nil {
			log.Fatal(err)
		}
	}

	// Output:
	// [id status]
	// [1 open]
	// [2 shipped]
}
