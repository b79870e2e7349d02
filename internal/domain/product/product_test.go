package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableStock(t *testing.T) {
	p := Product{Stock: 10, ReservedStock: 3}
	assert.Equal(t, 7, p.AvailableStock())
	assert.True(t, p.InStock())

	p.ReservedStock = 10
	assert.Equal(t, 0, p.AvailableStock())
	assert.False(t, p.InStock())
}

func TestIsLowStock(t *testing.T) {
	tests := []struct {
		name     string
		stock    int
		reserved int
		want     bool
	}{
		{"plenty available", 100, 0, false},
		{"exactly at threshold", 10, 0, false},
		{"just below threshold", 9, 0, true},
		{"one left", 5, 4, true},
		{"sold out", 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Stock: tt.stock, ReservedStock: tt.reserved}
			assert.Equal(t, tt.want, p.IsLowStock())
		})
	}
}

func TestInsufficientStockError_Message(t *testing.T) {
	err := &InsufficientStockError{ProductID: "p1", Requested: 5, Available: 2}
	assert.Contains(t, err.Error(), "p1")
	assert.Contains(t, err.Error(), "requested 5")
	assert.Contains(t, err.Error(), "available 2")
}
