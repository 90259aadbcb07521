// Package mongodb implements the domain repositories on MongoDB.
//
// Guarded writes use conditional filters on single documents, so the store
// works against a standalone server without multi-document transactions.
package mongodb

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	productsCollection    = "products"
	couponsCollection     = "coupons"
	couponUsageCollection = "coupon_usage"
	cartsCollection       = "carts"
	ordersCollection      = "orders"
	sessionsCollection    = "sessions"
	apiKeysCollection     = "api_keys"
)

// Connect opens a client for uri, verifies it with a ping and returns the
// named database. Decimals are stored as Decimal128.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().ApplyURI(uri).SetRegistry(NewRegistry())
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client.Database(database), nil
}

// Ping checks that the primary is reachable.
func Ping(ctx context.Context, db *mongo.Database) error {
	return db.Client().Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the repositories rely on. It is safe to
// call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		couponsCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		couponUsageCollection: {
			{
				Keys:    bson.D{{Key: "couponId", Value: 1}, {Key: "userId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		ordersCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "orderDate", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "orderDate", Value: 1}}},
		},
		sessionsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
		},
		apiKeysCollection: {
			{Keys: bson.D{{Key: "keyHash", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", name, err)
		}
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// NewRegistry returns the default registry extended with a Decimal128 codec
// for decimal.Decimal.
func NewRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "encodeDecimal", Types: []reflect.Type{decimalType}, Received: val}
	}
	d128, err := primitive.ParseDecimal128(val.Interface().(decimal.Decimal).String())
	if err != nil {
		return fmt.Errorf("encoding decimal: %w", err)
	}
	return vw.WriteDecimal128(d128)
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "decodeDecimal", Types: []reflect.Type{decimalType}, Received: val}
	}

	var s string
	switch t := vr.Type(); t {
	case bson.TypeDecimal128:
		d128, err := vr.ReadDecimal128()
		if err != nil {
			return err
		}
		s = d128.String()
	case bson.TypeString:
		str, err := vr.ReadString()
		if err != nil {
			return err
		}
		s = str
	case bson.TypeNull:
		if err := vr.ReadNull(); err != nil {
			return err
		}
		val.Set(reflect.ValueOf(decimal.Zero))
		return nil
	default:
		return errors.Errorf("cannot decode %s into decimal", t)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decoding decimal %q: %w", s, err)
	}
	val.Set(reflect.ValueOf(d))
	return nil
}

// exists reports whether a document with the given _id is in coll.
func exists(ctx context.Context, coll *mongo.Collection, id string) (bool, error) {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
