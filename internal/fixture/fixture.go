// Package fixture loads customer and product catalogs from JSON files,
// optionally gzip-compressed.
//
// A fixture file has the form
//
//	{"customers": [{"id": "c1", "name": "Alice"}],
//	 "products":  [{"id": "p1", "name": "Widget", "price": "10.00", "quantity": 5}]}
//
// Prices may be JSON numbers or strings.
package fixture

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

// Fixture is a set of customers and products to seed a store with.
type Fixture struct {
	Customers []customer.Customer
	Products  []product.Product
}

// Load reads a fixture file. Files ending in .gz are decompressed.
func Load(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open fixture")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	fx, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return fx, nil
}

// LoadAll reads the given files concurrently and merges them in argument
// order. A later file overrides records with the same id from an earlier one.
func LoadAll(ctx context.Context, paths ...string) (*Fixture, error) {
	loaded := make([]*Fixture, len(paths))

	g, _ := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			fx, err := Load(path)
			if err != nil {
				return err
			}
			loaded[i] = fx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(loaded), nil
}

// Decode parses a fixture document from r.
func Decode(r io.Reader) (*Fixture, error) {
	var fx Fixture
	d := jx.Decode(r, 64*1024)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customers":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCustomer(d)
				if err != nil {
					return errors.Wrapf(err, "customer %d", len(fx.Customers))
				}
				fx.Customers = append(fx.Customers, c)
				return nil
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return errors.Wrapf(err, "product %d", len(fx.Products))
				}
				fx.Products = append(fx.Products, p)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}
	return &fx, nil
}

func decodeCustomer(d *jx.Decoder) (customer.Customer, error) {
	var (
		c   customer.Customer
		err error
	)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			c.ID, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return c, err
	}
	if c.ID == "" {
		return c, errors.New("id required")
	}
	return c, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var (
		p   product.Product
		err error
	)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodePrice(d)
		case "quantity":
			p.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return p, err
	}

	switch {
	case p.ID == "":
		return p, errors.New("id required")
	case p.Price.IsNegative():
		return p, errors.Errorf("product %s: negative price", p.ID)
	case p.Quantity < 0:
		return p, errors.Errorf("product %s: negative quantity", p.ID)
	}
	return p, nil
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("price: unexpected %s", d.Next())
	}
}

func merge(fixtures []*Fixture) *Fixture {
	var (
		out       Fixture
		customers = make(map[string]int)
		products  = make(map[string]int)
	)
	for _, fx := range fixtures {
		for _, c := range fx.Customers {
			if i, ok := customers[c.ID]; ok {
				out.Customers[i] = c
				continue
			}
			customers[c.ID] = len(out.Customers)
			out.Customers = append(out.Customers, c)
		}
		for _, p := range fx.Products {
			if i, ok := products[p.ID]; ok {
				out.Products[i] = p
				continue
			}
			products[p.ID] = len(out.Products)
			out.Products = append(out.Products, p)
		}
	}
	return &out
}
