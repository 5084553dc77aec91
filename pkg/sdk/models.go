package sdk

// Activity is a submission body.
type Activity struct {
	WalletAddress string         `json:"wallet_address"`
	ActivityType  string         `json:"activity_type"`
	Value         float64        `json:"value"`
	Details       map[string]any `json:"details,omitempty"`
}

// SubmitResult is the settlement outcome of a submission. Status is
// "confirmed" or "pending".
type SubmitResult struct {
	TxHash        string `json:"txHash"`
	Status        string `json:"status"`
	WalletAddress string `json:"wallet_address"`
}

// ActivityType describes one accepted activity type.
type ActivityType struct {
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	ExpectedDetails []string `json:"expectedDetails"`
}

// LoginResponse starts a provider redirect.
type LoginResponse struct {
	AuthURL    string `json:"auth_url"`
	State      string `json:"state"`
	SessionKey string `json:"session_key"`
	Provider   string `json:"provider"`
}

// CallbackParams are forwarded from the provider redirect.
type CallbackParams struct {
	Code          string
	State         string
	RedirectURI   string
	WalletAddress string
	SessionKey    string
}

// CallbackResult describes the stored grant.
type CallbackResult struct {
	Message         string `json:"message"`
	Provider        string `json:"provider"`
	WalletAddress   string `json:"wallet_address"`
	TokenID         string `json:"token_id"`
	ExpiresIn       int64  `json:"expires_in"`
	ExpiresAt       string `json:"expires_at"`
	HasRefreshToken bool   `json:"has_refresh_token"`
}
