package model

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type SecuritySettings struct {
	BiometricsEnabled bool `json:"biometricsEnabled"`
}
