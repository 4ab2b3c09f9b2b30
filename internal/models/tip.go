package models

// Tip is a seasonal gardening tip valid for one or more months (1-12).
type Tip struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Months  []int  `json:"mois"`
}
