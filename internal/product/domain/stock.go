package domain

type Stock struct {
	ProductID string
	Available int
	Reserved  int
}
