// cmd/seed/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"

	"inventory-reserve/internal/config"
	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/infra/etcd"

	"github.com/shopspring/decimal"
)

// seedItem is one menu entry in the seed file. Retail items carry a
// quantity, produce items an availability flag.
type seedItem struct {
	VendorID  string          `json:"vendor_id"`
	ItemID    string          `json:"item_id"`
	Kind      string          `json:"kind"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity,omitempty"`
	Available bool            `json:"available,omitempty"`
}

type seedFile struct {
	Items []seedItem `json:"items"`
}

func main() {
	// 1. Init logger and flags
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	file := flag.String("file", "seed.json", "path to the inventory seed file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Read and validate the seed file
	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		log.Fatalf("Failed to parse seed file %s: %v", *file, err)
	}
	if len(seed.Items) == 0 {
		log.Fatalf("Seed file %s contains no items", *file)
	}

	byVendor := make(map[string]map[domain.ItemKey]etcd.InventoryItem)
	for i, it := range seed.Items {
		kind := domain.ItemKind(it.Kind)
		if it.VendorID == "" || it.ItemID == "" || !kind.Valid() {
			log.Fatalf("Invalid seed item at index %d: vendor_id=%q item_id=%q kind=%q", i, it.VendorID, it.ItemID, it.Kind)
		}
		if it.Price.IsNegative() {
			log.Fatalf("Invalid seed item at index %d: negative price %s", i, it.Price)
		}
		if byVendor[it.VendorID] == nil {
			byVendor[it.VendorID] = make(map[domain.ItemKey]etcd.InventoryItem)
		}
		byVendor[it.VendorID][domain.ItemKey{ID: it.ItemID, Kind: kind}] = etcd.InventoryItem{
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Available: it.Available,
		}
	}

	// 3. Init etcd client
	ctx := context.Background()
	etcdClient, err := etcd.NewClient(ctx, cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	log.Println("Connected to etcd.")

	// 4. Publish, vendor by vendor
	published := 0
	for vendorID, items := range byVendor {
		if err := etcd.PublishInventory(ctx, etcdClient, vendorID, items); err != nil {
			log.Fatalf("Failed to publish inventory for vendor %s: %v", vendorID, err)
		}
		published += len(items)
		logger.Info("published vendor inventory", "vendor_id", vendorID, "items", len(items))
	}

	log.Printf("Seeded %d items across %d vendors.", published, len(byVendor))
}
