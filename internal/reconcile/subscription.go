package reconcile

import (
	"time"

	"join-sentinel/internal/models"
)

// IsExpiredAt judges a subscription against an explicit instant.
// tier none or an unsubscribed flag block access regardless of the expiry
// date; a missing expiry date is judged by the flag alone.
func IsExpiredAt(sub models.SubscriptionState, now time.Time) bool {
	if sub.Tier == models.TierNone || !sub.IsSubscribed {
		return true
	}
	if sub.ExpiryInstant == nil {
		return !sub.IsSubscribed
	}
	return sub.ExpiryInstant.Before(now)
}

// IsExpired é IsExpiredAt contra o relógio de parede.
func IsExpired(sub models.SubscriptionState) bool {
	return IsExpiredAt(sub, time.Now())
}

// Remaining é o tempo restante até a expiração, quebrado para exibição.
type Remaining struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Expired bool `json:"expired"`
}

// TimeRemainingAt decompõe o intervalo até a expiração.
func TimeRemainingAt(sub models.SubscriptionState, now time.Time) Remaining {
	if sub.ExpiryInstant == nil {
		return Remaining{Expired: true}
	}

	diff := sub.ExpiryInstant.Sub(now)
	if diff <= 0 {
		return Remaining{Expired: true}
	}

	return Remaining{
		Days:    int(diff.Hours()) / 24,
		Hours:   int(diff.Hours()) % 24,
		Minutes: int(diff.Minutes()) % 60,
		Seconds: int(diff.Seconds()) % 60,
	}
}

// TimeRemaining é TimeRemainingAt contra o relógio de parede.
func TimeRemaining(sub models.SubscriptionState) Remaining {
	return TimeRemainingAt(sub, time.Now())
}
