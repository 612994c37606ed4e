package audience

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

const sqliteSchema = `
CREATE TABLE customers (id TEXT PRIMARY KEY, created_at TIMESTAMP NOT NULL);
CREATE TABLE customer_addresses (id INTEGER PRIMARY KEY, customer_id TEXT NOT NULL, city TEXT NOT NULL DEFAULT '', state TEXT NOT NULL DEFAULT '', country TEXT NOT NULL DEFAULT '');
CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id TEXT NOT NULL, status TEXT NOT NULL, total REAL NOT NULL, created_at TIMESTAMP NOT NULL);
CREATE TABLE notifications (id INTEGER PRIMARY KEY, recipient_kind TEXT, recipient_id TEXT, title TEXT, body TEXT);
`

type seedCustomer struct {
	id       string
	city     string
	country  string
	signedUp time.Duration
	orders   []seedOrder
}

type seedOrder struct {
	status models.OrderStatus
	total  float64
	age    time.Duration
}

func openSQLite(t *testing.T, customers []seedCustomer) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	for _, c := range customers {
		_, err := db.Exec(`INSERT INTO customers (id, created_at) VALUES (?, ?)`, c.id, fixedNow.Add(-c.signedUp))
		require.NoError(t, err)
		if c.city != "" {
			_, err = db.Exec(`INSERT INTO customer_addresses (customer_id, city, country) VALUES (?, ?, ?)`, c.id, c.city, c.country)
			require.NoError(t, err)
		}
		for _, o := range c.orders {
			_, err = db.Exec(`INSERT INTO orders (customer_id, status, total, created_at) VALUES (?, ?, ?, ?)`,
				c.id, string(o.status), o.total, fixedNow.Add(-o.age))
			require.NoError(t, err)
		}
	}
	return db
}

func delivered(n int, total float64, age time.Duration) []seedOrder {
	out := make([]seedOrder, n)
	for i := range out {
		out[i] = seedOrder{status: models.OrderDelivered, total: total, age: age}
	}
	return out
}

func size(t *testing.T, db *sql.DB, rs models.RuleSet) int64 {
	t.Helper()
	q := newTestCompiler().Compile(rs)
	query, args := q.CountSQL()
	var n int64
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n), query)
	return n
}

const day = 24 * time.Hour

func scenarioCustomers() []seedCustomer {
	return []seedCustomer{
		{id: "a", city: "Toronto", country: "CA", signedUp: 400 * day, orders: delivered(3, 20, 10*day)},
		{id: "b", city: "Toronto", country: "CA", signedUp: 5 * day},
		{id: "c", city: "Calgary", country: "CA", signedUp: 90 * day, orders: delivered(5, 50, 60*day)},
	}
}

func TestAudienceSizeTorontoWithOrders(t *testing.T) {
	db := openSQLite(t, scenarioCustomers())

	got := size(t, db, models.RuleSet{Match: models.MatchAll, Rules: []models.Rule{
		{Property: "city", Operator: "equals", Value: "toronto"},
		{Property: "total_orders", Operator: "gte", Value: float64(1)},
	}})
	assert.Equal(t, int64(1), got)
}

func TestAudienceProperties(t *testing.T) {
	customers := scenarioCustomers()
	customers = append(customers, seedCustomer{
		id: "d", city: "Vancouver", country: "CA", signedUp: 30 * day,
		orders: []seedOrder{
			{status: models.OrderCancelled, total: 500, age: day},
			{status: models.OrderInTransit, total: 15, age: 2 * day},
		},
	})
	db := openSQLite(t, customers)

	tests := []struct {
		name string
		rule models.Rule
		want int64
	}{
		{"city contains", models.Rule{Property: "city", Operator: "contains", Value: "ORON"}, 2},
		{"city not equals", models.Rule{Property: "city", Operator: "not_equals", Value: "toronto"}, 2},
		{"country", models.Rule{Property: "country", Operator: "equals", Value: "ca"}, 4},
		{"total orders exact", models.Rule{Property: "total_orders", Operator: "equals", Value: 5.0}, 1},
		{"in transit counts as success", models.Rule{Property: "total_orders", Operator: "equals", Value: "1"}, 1},
		{"zero orders", models.Rule{Property: "total_orders", Operator: "less_than", Value: 1.0}, 1},
		{"spent over 100", models.Rule{Property: "total_spent", Operator: "gte", Value: 100.0}, 1},
		{"spent under 30 excludes cancelled", models.Rule{Property: "total_spent", Operator: "lte", Value: 30.0}, 2},
		{"ordered within 30 days", models.Rule{Property: "last_order_days", Operator: "lte", Value: 30.0}, 2},
		{"not ordered within 30 days", models.Rule{Property: "last_order_days", Operator: "not_equals", Value: 30.0}, 2},
		{"last order at least 30 days ago", models.Rule{Property: "last_order_days", Operator: "gte", Value: 30.0}, 1},
		{"signed up within 60 days", models.Rule{Property: "signup_days", Operator: "lte", Value: 60.0}, 2},
		{"signed up over 60 days ago", models.Rule{Property: "signup_days", Operator: "greater_than", Value: 60.0}, 2},
		{"has orders", models.Rule{Property: "has_orders", Operator: "equals", Value: true}, 3},
		{"has no orders", models.Rule{Property: "has_orders", Operator: "equals", Value: "false"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := size(t, db, models.RuleSet{Match: models.MatchAll, Rules: []models.Rule{tt.rule}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAudienceEmptyAndDroppedRulesAreUniverse(t *testing.T) {
	db := openSQLite(t, scenarioCustomers())

	assert.Equal(t, int64(3), size(t, db, models.RuleSet{Match: models.MatchAll}))
	assert.Equal(t, int64(3), size(t, db, models.RuleSet{Match: models.MatchAny, Rules: []models.Rule{
		{Property: "shoe_size", Operator: "equals", Value: "9"},
	}}))
}

func TestAudienceSizeMonotone(t *testing.T) {
	db := openSQLite(t, scenarioCustomers())

	rules := []models.Rule{
		{Property: "city", Operator: "equals", Value: "toronto"},
		{Property: "total_orders", Operator: "gte", Value: 1.0},
		{Property: "signup_days", Operator: "lte", Value: 100.0},
		{Property: "total_spent", Operator: "greater_than", Value: 100.0},
		{Property: "has_orders", Operator: "equals", Value: false},
	}

	for i := range rules {
		for j := range rules {
			if i == j {
				continue
			}
			t.Run(fmt.Sprintf("%d_%d", i, j), func(t *testing.T) {
				a := size(t, db, models.RuleSet{Rules: rules[i : i+1]})
				b := size(t, db, models.RuleSet{Rules: rules[j : j+1]})
				and := size(t, db, models.RuleSet{Match: models.MatchAll, Rules: []models.Rule{rules[i], rules[j]}})
				or := size(t, db, models.RuleSet{Match: models.MatchAny, Rules: []models.Rule{rules[i], rules[j]}})

				assert.LessOrEqual(t, and, min(a, b))
				assert.LessOrEqual(t, max(a, b), or)
				assert.LessOrEqual(t, or, a+b)
			})
		}
	}
}

func TestAudienceMembershipAndNotify(t *testing.T) {
	db := openSQLite(t, scenarioCustomers())
	q := newTestCompiler().Compile(models.RuleSet{Rules: []models.Rule{
		{Property: "city", Operator: "equals", Value: "toronto"},
	}})

	for id, want := range map[string]bool{"a": true, "b": true, "c": false} {
		query, args := q.MembershipSQL(id)
		var member bool
		require.NoError(t, db.QueryRow(query, args...).Scan(&member))
		assert.Equal(t, want, member, id)
	}

	query, args := q.NotifySQL("Hello Toronto", "20% off this week")
	res, err := db.Exec(query, args...)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(2), n)

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM notifications WHERE recipient_id = 'a'`).Scan(&title))
	assert.Equal(t, "Hello Toronto", title)
}
