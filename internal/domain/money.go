package domain

import "github.com/shopspring/decimal"

// minorUnitExp — число знаков после запятой у поддерживаемых валют.
const minorUnitExp = 2

// ToMinorUnits переводит сумму в основных единицах (10.99) в минимальные (1099), округляя до цента.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(minorUnitExp).Round(0).IntPart()
}

// FromMinorUnits переводит сумму в минимальных единицах обратно в основные.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExp)
}
