package paytrail

// Payment is the create-payment request body. Amounts are minor currency
// units (cents); the JSON shape follows the provider's camelCase schema.
type Payment struct {
	Stamp            string        `json:"stamp"`
	Reference        string        `json:"reference"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Language         string        `json:"language"`
	Items            []PaymentItem `json:"items"`
	Customer         Customer      `json:"customer"`
	InvoicingAddress *Address      `json:"invoicingAddress,omitempty"`
	RedirectURLs     CallbackURLs  `json:"redirectUrls"`
	CallbackURLs     *CallbackURLs `json:"callbackUrls,omitempty"`
	Groups           []string      `json:"groups,omitempty"`
}

// PaymentItem is one priced row of a payment. UnitPrice is minor units.
type PaymentItem struct {
	UnitPrice     int64  `json:"unitPrice"`
	Units         int    `json:"units"`
	VATPercentage int    `json:"vatPercentage"`
	ProductCode   string `json:"productCode"`
	Description   string `json:"description,omitempty"`
}

// Customer carries buyer contact details.
type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Address is the invoicing address block.
type Address struct {
	StreetAddress string `json:"streetAddress"`
	PostalCode    string `json:"postalCode"`
	City          string `json:"city"`
	Country       string `json:"country"`
}

// CallbackURLs pairs the success and cancel URLs for redirects or
// server-to-server callbacks.
type CallbackURLs struct {
	Success string `json:"success"`
	Cancel  string `json:"cancel"`
}

// CreatePaymentResult is the verified outcome of a create-payment call.
type CreatePaymentResult struct {
	Href          string `json:"href"`
	TransactionID string `json:"transactionId"`
	Reference     string `json:"reference"`
	RequestID     string `json:"-"`
}
