package model

import "encoding/json"

// IndicatorVersion tags every indicator record with the formula revision that
// produced it. Bump when any indicator formula changes.
const IndicatorVersion = "v2"

// Indicator holds the technical indicator values computed for one closed
// candle. Every numeric field is nullable: nil means "warmup not satisfied",
// never zero. No field is ever NaN or infinite.
type Indicator struct {
	Exchange  string  `json:"exchange"`
	Market    string  `json:"market"`
	TF        string  `json:"tf"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`

	MA7   *float64 `json:"ma_7"`
	MA50  *float64 `json:"ma_50"`
	MA200 *float64 `json:"ma_200"`
	MA400 *float64 `json:"ma_400"`
	MA800 *float64 `json:"ma_800"`

	Dist7   *float64 `json:"dist_7"`
	Dist50  *float64 `json:"dist_50"`
	Dist200 *float64 `json:"dist_200"`
	Dist400 *float64 `json:"dist_400"`
	Dist800 *float64 `json:"dist_800"`

	BBMid   *float64 `json:"bb_mid"`
	BBUpper *float64 `json:"bb_upper"`
	BBLower *float64 `json:"bb_lower"`
	BBWidth *float64 `json:"bb_width"`
	BBPos   *float64 `json:"bb_pos"`

	RSI14  *float64 `json:"rsi_14"`
	StochK *float64 `json:"stoch_k"`
	StochD *float64 `json:"stoch_d"`

	OBV *float64 `json:"obv"`
	PVT *float64 `json:"pvt"`

	MA7Slope  *float64 `json:"ma_7_slope"`
	MA50Slope *float64 `json:"ma_50_slope"`
	Ret1      *float64 `json:"ret_1"`
	Ret5      *float64 `json:"ret_5"`

	Version string `json:"indicator_version"`
}

// SeriesKey returns "market|tf".
func (i *Indicator) SeriesKey() string {
	return i.Market + "|" + i.TF
}

// BucketKey returns "market|tf|openTime".
func (i *Indicator) BucketKey() string {
	return BucketKey(i.Market, i.TF, i.OpenTime)
}

// JSON returns the JSON-encoded indicator record.
func (i *Indicator) JSON() []byte {
	b, _ := json.Marshal(i)
	return b
}
