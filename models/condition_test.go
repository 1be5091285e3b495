package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCondition_BuyDerivesPrices(t *testing.T) {
	c := NewCondition(OrderSideBuy, 18000, 50, 1, 100, 50, false)

	assert.Equal(t, 18050, c.OrderPrice)
	assert.Equal(t, 18150, c.TakeProfitPrice)
	assert.Equal(t, 18000, c.StopLossPrice)
	assert.NoError(t, c.ValidateDirection())
	assert.NotEmpty(t, c.ConditionID)
	assert.Equal(t, ConditionWaiting, c.State())
}

func TestNewCondition_SellDerivesPrices(t *testing.T) {
	c := NewCondition(OrderSideSell, 18100, 50, 1, 100, 50, false)

	assert.Equal(t, 18050, c.OrderPrice)
	assert.Equal(t, 17950, c.TakeProfitPrice)
	assert.Equal(t, 18100, c.StopLossPrice)
	require.NoError(t, c.ValidateDirection())
}

func TestCondition_State(t *testing.T) {
	c := NewCondition(OrderSideBuy, 18000, 50, 1, 100, 50, false)
	assert.Equal(t, ConditionWaiting, c.State())

	c.IsTrigger = true
	assert.Equal(t, ConditionTriggered, c.State())

	c.IsOrdered = true
	assert.Equal(t, ConditionOpen, c.State())

	c.IsExited = true
	assert.Equal(t, ConditionExited, c.State())
}

func TestCondition_ValidateDirection_RejectsInverted(t *testing.T) {
	c := &Condition{
		ConditionID:     "x",
		Action:          OrderSideBuy,
		OrderPrice:      100,
		TakeProfitPrice: 50, // wrong side
		StopLossPrice:   200,
	}
	assert.Error(t, c.ValidateDirection())
}
