// Package tribesv1 declares the request and response messages of the tribes.v1.Tribes
// gRPC service. Messages are exchanged with the JSON codec registered by this package.
package tribesv1

import "time"

// --- Sessions ---

type RequestAuthenticationRequest struct{}

type RequestAuthenticationResponse struct {
	Challenge string `json:"challenge"`
}

type AuthenticateRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	PublicKey     string `json:"publicKey"`
}

type AuthenticateResponse struct {
	AccountID     string    `json:"accountId"`
	WalletAddress string    `json:"walletAddress"`
	FullName      string    `json:"fullName"`
	ProfilePhoto  string    `json:"profilePhoto,omitempty"`
	Role          string    `json:"role"`
	AcceptTerms   bool      `json:"acceptTerms"`
	AccessToken   string    `json:"jwtToken"`
	RefreshToken  string    `json:"refreshToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RevokeTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// --- Accounts ---

type RegisterRequest struct {
	WalletAddress string `json:"walletAddress"`
	FullName      string `json:"fullName"`
	ProfilePhoto  string `json:"profilePhoto,omitempty"`
	AcceptTerms   bool   `json:"acceptTerms"`
}

type RegisterResponse struct {
	AccountID     string `json:"accountId"`
	WalletAddress string `json:"walletAddress"`
	Role          string `json:"role"`
}

type AccountExistsRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type AccountExistsResponse struct {
	Exists bool `json:"exists"`
}

type UpdateNameRequest struct {
	FullName string `json:"fullName"`
}

type UpdateProfilePhotoRequest struct {
	ProfilePhoto string `json:"profilePhoto"`
}

type UpdateDeviceTokenRequest struct {
	DeviceType  string `json:"deviceType"`
	DeviceToken string `json:"deviceToken"`
}

// --- Tribes ---

type Member struct {
	FullName      string    `json:"fullName"`
	ProfilePhoto  string    `json:"profilePhoto,omitempty"`
	PublicKey     string    `json:"publicKey,omitempty"`
	WalletAddress string    `json:"walletAddress"`
	Joined        time.Time `json:"joined"`
}

type Tribe struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	TimestampID string   `json:"timestampId"`
	Members     []Member `json:"members"`
}

type CreateTribeRequest struct {
	Name string `json:"name"`
}

type GetTribesRequest struct{}

type GetTribesResponse struct {
	Tribes []Tribe `json:"tribes"`
}

type InviteToTribeRequest struct {
	TribeID string `json:"tribeId"`
	// Code is the lowercase hex Keccak-256 of "{pin}:{code}".
	Code string `json:"code"`
}

type JoinTribeRequest struct {
	Pin  string `json:"pin"`
	Code string `json:"code"`
}

type LeaveTribeRequest struct {
	TribeID string `json:"tribeId"`
}

type RemoveFromTribeRequest struct {
	TribeID       string `json:"tribeId"`
	WalletAddress string `json:"walletAddress"`
}

type UpdateTribeNameRequest struct {
	TribeID string `json:"tribeId"`
	Name    string `json:"name"`
}

type UpdateTribeNameResponse struct {
	Name string `json:"name"`
}

// --- Messages ---

type MessageKey struct {
	PublicKey     string `json:"publicKey"`
	EncryptionKey string `json:"encryptionKey"`
}

type Reaction struct {
	SenderWalletAddress string `json:"senderWalletAddress,omitempty"`
	Content             string `json:"content"`
}

type Message struct {
	ID                  string       `json:"id"`
	TribeID             string       `json:"tribeId"`
	Body                string       `json:"body"`
	Caption             string       `json:"caption,omitempty"`
	Deleted             bool         `json:"deleted"`
	Type                string       `json:"type"`
	SenderWalletAddress string       `json:"senderWalletAddress,omitempty"`
	Tag                 string       `json:"tag"`
	Context             *Message     `json:"context,omitempty"`
	Keys                []MessageKey `json:"keys"`
	Reactions           []Reaction   `json:"reactions,omitempty"`
	Expires             *time.Time   `json:"expires,omitempty"`
	TimeStamp           time.Time    `json:"timeStamp"`
}

// Personalize returns a copy of m whose keys, and those of its context, are limited
// to the entry wrapped for publicKey.
func (m Message) Personalize(publicKey string) any {
	return m.ForKey(publicKey)
}

// ForKey is Personalize with a concrete result.
func (m Message) ForKey(publicKey string) Message {
	out := m
	out.Keys = make([]MessageKey, 0, 1)
	for _, k := range m.Keys {
		if k.PublicKey == publicKey {
			out.Keys = append(out.Keys, k)
		}
	}
	if m.Context != nil {
		c := m.Context.ForKey(publicKey)
		out.Context = &c
	}
	return out
}

type PostMessageRequest struct {
	TribeID          string       `json:"tribeId"`
	TribeTimestampID string       `json:"tribeTimestampId"`
	Body             string       `json:"body"`
	Caption          string       `json:"caption,omitempty"`
	Type             string       `json:"type"`
	Tag              string       `json:"tag,omitempty"`
	ContextID        string       `json:"contextId,omitempty"`
	Keys             []MessageKey `json:"keys"`
}

type GetMessagesRequest struct {
	TribeID string `json:"tribeId"`
}

type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type MessageRequest struct {
	MessageID string `json:"messageId"`
}

type GetViewersResponse struct {
	WalletAddresses []string `json:"walletAddresses"`
}

type GetAllowedTeaRecipientsRequest struct{}

type GetAllowedTeaRecipientsResponse struct {
	TribeIDs []string `json:"tribeIds"`
}

type AddReactionRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}
