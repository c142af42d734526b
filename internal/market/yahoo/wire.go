package yahoo

// Wire shapes for the three endpoints. Only the fields we read are declared;
// numeric fields the provider reports as null decode to their zero value.

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []wireQuote `json:"result"`
		Error  *apiError   `json:"error"`
	} `json:"quoteResponse"`
}

type wireQuote struct {
	Symbol                     string  `json:"symbol"`
	ShortName                  string  `json:"shortName"`
	LongName                   string  `json:"longName"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	RegularMarketChange        float64 `json:"regularMarketChange"`
	RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
	RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
	RegularMarketVolume        int64   `json:"regularMarketVolume"`
	RegularMarketTime          int64   `json:"regularMarketTime"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			Quote struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"quote"`
			Options []struct {
				ExpirationDate int64          `json:"expirationDate"`
				Calls          []wireContract `json:"calls"`
				Puts           []wireContract `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"optionChain"`
}

type wireContract struct {
	Strike            float64 `json:"strike"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	LastPrice         float64 `json:"lastPrice"`
}
