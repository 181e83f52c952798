package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketcore-backend/pkg/courier"
	"github.com/angelmondragon/marketcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/marketcore-backend/pkg/db/types"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

type quoterFunc func(ctx context.Context, req courier.QuoteRequest) (*decimal.Decimal, error)

func (f quoterFunc) Quote(ctx context.Context, req courier.QuoteRequest) (*decimal.Decimal, error) {
	return f(ctx, req)
}

var dropoff = types.DeliveryPoint{Address: "9 Home Rd", Lat: 14.6, Lng: 121.1, Contact: types.Contact{Phone: "+630000000002"}}

func seedStore(t *testing.T, methods ...string) (*Service, uuid.UUID, func(Quoter)) {
	t.Helper()
	conn, _ := dbtest.Open(t, &models.Store{})
	store := models.Store{
		ID:              uuid.New(),
		MerchantID:      uuid.New(),
		Name:            "Corner Shop",
		IsPublic:        true,
		DeliveryMethods: dbtypes.StringList(methods),
		Pickup:          types.DeliveryPoint{Address: "1 Shop St", Lat: 14.5, Lng: 121, Contact: types.Contact{Phone: "+630000000001"}},
	}
	require.NoError(t, conn.Create(&store).Error)
	svc, err := NewService(conn, nil, nil, nil)
	require.NoError(t, err)
	return svc, store.ID, func(q Quoter) { svc.courier = q }
}

func TestQuoteForStoreUsesPickupAndDefaults(t *testing.T) {
	svc, storeID, setCourier := seedStore(t, string(enums.DeliveryMethodCourier))

	var seen courier.QuoteRequest
	price := decimal.NewFromInt(95)
	setCourier(quoterFunc(func(ctx context.Context, req courier.QuoteRequest) (*decimal.Decimal, error) {
		seen = req
		return &price, nil
	}))

	quote, err := svc.QuoteForStore(context.Background(), QuoteInput{
		StoreID:       storeID,
		Dropoff:       dropoff,
		CollectAmount: decimal.NewFromInt(700),
	})
	require.NoError(t, err)
	assert.True(t, quote.Available)
	assert.True(t, quote.Price.Equal(price))
	assert.Equal(t, enums.VehicleMotorbike, seen.VehicleClass)
	assert.Equal(t, 1, seen.WeightKG)
	require.Len(t, seen.Points, 2)
	assert.Equal(t, "1 Shop St", seen.Points[0].Address)
	assert.True(t, seen.CollectAmount.Equal(decimal.NewFromInt(700)))
}

func TestQuoteForStoreDegradesWhenCourierUnavailable(t *testing.T) {
	svc, storeID, setCourier := seedStore(t, string(enums.DeliveryMethodCourier))

	quote, err := svc.QuoteForStore(context.Background(), QuoteInput{StoreID: storeID, Dropoff: dropoff})
	require.NoError(t, err)
	assert.False(t, quote.Available)

	setCourier(quoterFunc(func(ctx context.Context, req courier.QuoteRequest) (*decimal.Decimal, error) {
		return nil, errors.New("timeout")
	}))
	quote, err = svc.QuoteForStore(context.Background(), QuoteInput{StoreID: storeID, Dropoff: dropoff})
	require.NoError(t, err)
	assert.False(t, quote.Available)
	assert.Nil(t, quote.Price)
}

func TestQuoteForStoreRejectsBadInput(t *testing.T) {
	svc, storeID, _ := seedStore(t, string(enums.DeliveryMethodOwn))

	_, err := svc.QuoteForStore(context.Background(), QuoteInput{StoreID: storeID, Dropoff: dropoff})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.QuoteForStore(context.Background(), QuoteInput{StoreID: uuid.New(), Dropoff: dropoff})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.QuoteForStore(context.Background(), QuoteInput{StoreID: storeID, Dropoff: types.DeliveryPoint{Address: "x"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.QuoteForStore(context.Background(), QuoteInput{StoreID: storeID, Dropoff: dropoff, VehicleClass: "rocket"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
