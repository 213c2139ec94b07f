package models

import "time"

// Tier é o plano de assinatura do usuário.
type Tier string

const (
	TierNone      Tier = "none"
	TierBasic     Tier = "basic"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// Credential is a bearer value lifted from a third-party session.
// Kept in memory in plaintext, encrypted before it touches the store,
// masked before it touches a log line.
type Credential struct {
	Token string `json:"token"`
	Email string `json:"email,omitempty"`
}

// LinkedAccount representa uma identidade externa vinculada com sucesso.
type LinkedAccount struct {
	ExternalID  string `json:"discord_id"`
	DisplayName string `json:"username"`
}

// Event is an immutable fact reported by the backend, newest first.
type Event struct {
	ID          string    `json:"_id"`
	Description string    `json:"action"`
	ServerTag   string    `json:"server"`
	Timestamp   time.Time `json:"timestamp"`
}

// SubscriptionState is the locally cached view of the user's entitlement.
// Overwritten wholesale by a profile refresh, downgraded in place by the
// local expiry sweep.
type SubscriptionState struct {
	Tier          Tier       `json:"tier"`
	IsSubscribed  bool       `json:"is_subscribed"`
	ExpiryInstant *time.Time `json:"expiry_date"`
}

// Profile é a resposta do endpoint /me do backend.
type Profile struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	Tier         Tier       `json:"tier"`
	IsSubscribed bool       `json:"is_subscribed"`
	ExpiryDate   *time.Time `json:"expiry_date"`
}

// Subscription extracts the entitlement portion of a profile.
func (p Profile) Subscription() SubscriptionState {
	tier := p.Tier
	if tier == "" {
		tier = TierNone
	}
	return SubscriptionState{
		Tier:          tier,
		IsSubscribed:  p.IsSubscribed,
		ExpiryInstant: p.ExpiryDate,
	}
}

// HostSession é a sessão autenticada do usuário no backend.
type HostSession struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Email  string `json:"email,omitempty"`
}

// PaymentSession é a resposta de /initialize-payment.
type PaymentSession struct {
	Status bool `json:"status"`
	Data   struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

// Receipt é um recibo de pagamento listado em /payments.
type Receipt struct {
	Reference string    `json:"reference"`
	Plan      Tier      `json:"plan"`
	Months    int       `json:"months"`
	Amount    int64     `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
}
