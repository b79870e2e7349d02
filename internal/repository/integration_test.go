//go:build integration

package repository

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/oakmall/storefront/internal/domain/order"
	"github.com/oakmall/storefront/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "store",
				"POSTGRES_PASSWORD": "store",
				"POSTGRES_DB":       "store",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := "postgres://store:store@" + host + ":" + port.Port() + "/store?sslmode=disable"
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

type dropDispatcher struct{}

func (dropDispatcher) Dispatch(context.Context, order.Event) {}

type dropInvalidator struct{}

func (dropInvalidator) InvalidateProductList(context.Context) {}

func (dropInvalidator) InvalidateOrderStatus(context.Context, string) {}

type fixture struct {
	products *ProductRepository
	orders   *OrderRepository
	carts    *CartRepository
	svc      *order.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	_, err := testPool.Exec(context.Background(),
		`TRUNCATE order_items, orders, cart_items, carts, products`)
	require.NoError(t, err)

	products := NewProductRepository(testPool)
	orders := NewOrderRepository(testPool)
	carts := NewCartRepository(testPool)
	return &fixture{
		products: products,
		orders:   orders,
		carts:    carts,
		svc:      order.NewService(products, orders, carts, dropDispatcher{}, dropInvalidator{}),
	}
}

func (f *fixture) seed(t *testing.T, id string, price string, stock int) {
	t.Helper()
	err := f.products.Upsert(context.Background(), product.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Category: "test",
	})
	require.NoError(t, err)
}

func (f *fixture) counters(t *testing.T, id string) (stock, reserved int) {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock, p.ReservedStock
}

func (f *fixture) place(t *testing.T, lines ...order.Line) *order.Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), order.CreateRequest{
		UserID:  "u1",
		Lines:   lines,
		Address: order.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) advance(t *testing.T, o *order.Order, statuses ...order.Status) *order.Order {
	t.Helper()
	for _, status := range statuses {
		var err error
		o, err = f.svc.UpdateStatus(context.Background(), o.ID, status)
		require.NoError(t, err)
	}
	return o
}

func TestIntegration_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)

	const callers = 10
	results := make([]error, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := f.svc.Create(context.Background(), order.CreateRequest{
				UserID: "u1",
				Lines:  []order.Line{{ProductID: "p1", Quantity: 1}},
			})
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var isErr *product.InsufficientStockError
		require.ErrorAs(t, err, &isErr)
	}
	assert.Equal(t, 5, successes)

	stock, reserved := f.counters(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 5, reserved)
}

func TestIntegration_MultiLineCreateIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)
	f.seed(t, "p2", "20.00", 1)

	_, err := f.svc.Create(context.Background(), order.CreateRequest{
		UserID: "u1",
		Lines: []order.Line{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 2},
		},
	})
	var isErr *product.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, "p2", isErr.ProductID)

	// Nothing persisted, including the p1 reservation made before p2 failed.
	_, reserved1 := f.counters(t, "p1")
	assert.Zero(t, reserved1)

	orders, err := f.svc.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestIntegration_CancellationRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)

	o := f.place(t, order.Line{ProductID: "p1", Quantity: 3})
	_, reserved := f.counters(t, "p1")
	require.Equal(t, 3, reserved)

	cancelled := f.advance(t, o, order.StatusCancelled)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	stock, reserved := f.counters(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Zero(t, reserved)
}

func TestIntegration_DeliveryFinalizesStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)

	o := f.place(t, order.Line{ProductID: "p1", Quantity: 3})
	delivered := f.advance(t, o,
		order.StatusConfirmed, order.StatusProcessing, order.StatusShipped, order.StatusDelivered)
	assert.Equal(t, order.StatusDelivered, delivered.Status)
	assert.Regexp(t, `^TRK-[0-9A-F]{16}$`, delivered.TrackingNumber)

	stock, reserved := f.counters(t, "p1")
	assert.Equal(t, 2, stock)
	assert.Zero(t, reserved)
}

func TestIntegration_ReplacementIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)
	f.seed(t, "p2", "20.00", 2)

	o := f.place(t, order.Line{ProductID: "p1", Quantity: 2})

	_, err := f.svc.ReplaceItems(context.Background(), o.ID, []order.Line{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 5},
	})
	var isErr *product.InsufficientStockError
	require.ErrorAs(t, err, &isErr)

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "p1", got.Items[0].ProductID)
	assert.Equal(t, 2, got.Items[0].Quantity)

	_, reserved1 := f.counters(t, "p1")
	_, reserved2 := f.counters(t, "p2")
	assert.Equal(t, 2, reserved1)
	assert.Zero(t, reserved2)
}

func TestIntegration_ReplacementWithinOwnReservation(t *testing.T) {
	// Stock 5, order holds 4. Replacing with 5 must succeed because the
	// order's own reservation is released before the new one is taken.
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)

	o := f.place(t, order.Line{ProductID: "p1", Quantity: 4})

	updated, err := f.svc.ReplaceItems(context.Background(), o.ID, []order.Line{
		{ProductID: "p1", Quantity: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Items[0].Quantity)

	_, reserved := f.counters(t, "p1")
	assert.Equal(t, 5, reserved)
}

func TestIntegration_ReplacementAndCreateDoNotDeadlock(t *testing.T) {
	// A replacement expanding {p2} to {p1, p2} races creates of {p1, p2}.
	// Both transactions must acquire product row locks in ascending ID
	// order; an inversion shows up here as a deadlock error from Postgres
	// after deadlock_timeout.
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 1000)
	f.seed(t, "p2", "20.00", 1000)

	for i := 0; i < 20; i++ {
		o := f.place(t, order.Line{ProductID: "p2", Quantity: 1})

		var g errgroup.Group
		g.Go(func() error {
			_, err := f.svc.ReplaceItems(context.Background(), o.ID, []order.Line{
				{ProductID: "p1", Quantity: 1},
				{ProductID: "p2", Quantity: 2},
			})
			return err
		})
		g.Go(func() error {
			_, err := f.svc.Create(context.Background(), order.CreateRequest{
				UserID: "u2",
				Lines: []order.Line{
					{ProductID: "p1", Quantity: 1},
					{ProductID: "p2", Quantity: 1},
				},
			})
			return err
		})
		require.NoError(t, g.Wait(), "iteration %d", i)
	}
}

func TestIntegration_TrackingCollisionRegenerates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 10)

	const taken = "TRK-0123456789ABCDEF"

	first := f.place(t, order.Line{ProductID: "p1", Quantity: 1})
	first = f.advance(t, first, order.StatusConfirmed, order.StatusProcessing, order.StatusShipped)
	_, err := testPool.Exec(context.Background(),
		`UPDATE orders SET tracking_number = $2 WHERE order_id = $1`, first.ID, taken)
	require.NoError(t, err)

	second := f.place(t, order.Line{ProductID: "p1", Quantity: 1})
	second = f.advance(t, second, order.StatusConfirmed, order.StatusProcessing)

	// Drive the shipment with a number that is already taken: the guarded
	// update hits the unique constraint and the transition must retry with
	// a fresh number instead of failing.
	err = f.orders.Transition(context.Background(),
		second.ID, order.StatusProcessing, order.StatusShipped, taken)
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, got.Status)
	assert.Regexp(t, `^TRK-[0-9A-F]{16}$`, got.TrackingNumber)
	assert.NotEqual(t, taken, got.TrackingNumber)
}

func TestIntegration_ConcurrentTransitionsSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)

	o := f.place(t, order.Line{ProductID: "p1", Quantity: 2})

	// Both race Pending -> Cancelled; the guarded update lets exactly one
	// through, so the release happens once.
	const racers = 2
	results := make([]error, racers)
	var g errgroup.Group
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			_, err := f.svc.UpdateStatus(context.Background(), o.ID, order.StatusCancelled)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	stock, reserved := f.counters(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Zero(t, reserved)
}

func TestIntegration_TrackingNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 10)

	first := f.place(t, order.Line{ProductID: "p1", Quantity: 1})
	second := f.place(t, order.Line{ProductID: "p1", Quantity: 1})

	first = f.advance(t, first, order.StatusConfirmed, order.StatusProcessing, order.StatusShipped)
	second = f.advance(t, second, order.StatusConfirmed, order.StatusProcessing, order.StatusShipped)

	assert.Regexp(t, `^TRK-[0-9A-F]{16}$`, first.TrackingNumber)
	assert.Regexp(t, `^TRK-[0-9A-F]{16}$`, second.TrackingNumber)
	assert.NotEqual(t, first.TrackingNumber, second.TrackingNumber)
}

func TestIntegration_CheckoutClearsCart(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)

	c, err := f.carts.GetOrCreate(context.Background(), "u1")
	require.NoError(t, err)
	_, err = f.carts.UpsertItem(context.Background(), c.ID, "p1", 2)
	require.NoError(t, err)

	o, err := f.svc.CreateFromCart(context.Background(), "u1", order.Address{Line1: "1 Main St"})
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)

	after, err := f.carts.GetOrCreate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, after.Items)
}

func TestIntegration_UpsertRefusesStockBelowReserved(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "10.00", 5)
	f.place(t, order.Line{ProductID: "p1", Quantity: 3})

	err := f.products.Upsert(context.Background(), product.Product{
		ID:       "p1",
		Name:     "Product p1",
		Price:    decimal.RequireFromString("10.00"),
		Stock:    2,
		Category: "test",
	})
	var ivErr *product.InvariantViolationError
	require.ErrorAs(t, err, &ivErr)

	stock, reserved := f.counters(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 3, reserved)
}
