// Package upsell loads the warranty/add-on catalog offered during document
// creation. Catalog entries are templates; selecting one during the builder
// flow turns it into a line item owned by the document.
package upsell

import (
	"strings"

	"github.com/servicepad/servicepad/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Item is a catalog template. Price is in cents.
type Item struct {
	ID      string `mapstructure:"id" json:"id"`
	Title   string `mapstructure:"title" json:"title"`
	Price   int64  `mapstructure:"price" json:"price"`
	Taxable bool   `mapstructure:"taxable" json:"taxable"`
	Note    string `mapstructure:"note" json:"note,omitempty"`
}

type Catalog struct {
	items []Item
}

func DefaultItems() []Item {
	return []Item{
		{ID: "warranty-1y", Title: "1-Year Extended Warranty", Price: 9900, Taxable: true},
		{ID: "warranty-2y", Title: "2-Year Extended Warranty", Price: 17900, Taxable: true},
		{ID: "maintenance-plan", Title: "Annual Maintenance Plan", Price: 24900, Taxable: true, Note: "Includes two seasonal tune-ups."},
	}
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

var Module = fx.Module("upsell",
	fx.Provide(NewCatalog),
)

// NewCatalog reads upsell.yml from the configured search paths, falling
// back to the built-in defaults when no file is present.
func NewCatalog(p Params) (*Catalog, error) {
	v := viper.New()
	v.SetConfigName("upsell")
	v.SetConfigType("yml")
	v.AddConfigPath(p.Cfg.CatalogPath)
	v.AddConfigPath("/etc/servicepad")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		p.Log.Named("upsell").Info("no upsell catalog file, using defaults")
		return &Catalog{items: DefaultItems()}, nil
	}

	var items []Item
	if err := v.UnmarshalKey("items", &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		items = DefaultItems()
	}
	return &Catalog{items: items}, nil
}

// NewCatalogFromItems builds a catalog directly, bypassing the file lookup.
func NewCatalogFromItems(items []Item) *Catalog {
	return &Catalog{items: items}
}

func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Find(id string) (Item, bool) {
	id = strings.TrimSpace(id)
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}
