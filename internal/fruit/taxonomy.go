package fruit

// Type is the fruit identity the application can display.
type Type string

const (
	Apple  Type = "apple"
	Orange Type = "orange"
	Banana Type = "banana"
)

// Condition is the freshness verdict for a fruit.
type Condition string

const (
	Fresh  Condition = "fresh"
	Rotten Condition = "rotten"
)

// BackendResponse is the JSON body returned by the remote classifier.
type BackendResponse struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Result is a normalized classification. Confidence is a percentage and is not
// clamped: an upstream score of 1.2 yields 120.
type Result struct {
	FruitType  Type      `json:"fruit_type"`
	Condition  Condition `json:"condition"`
	Confidence int       `json:"confidence"`
}
