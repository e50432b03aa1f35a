package auth

import "time"

// Flag is a yes/no answer on a profile question. FlagNo doubles as "not reported".
type Flag string

const (
	FlagYes Flag = "Y"
	FlagNo  Flag = "N"
)

type Profile struct {
	Name         string `bson:"name" json:"name"`
	Diabetes     Flag   `bson:"diabetes" json:"diabetes"`
	Hypertension Flag   `bson:"hypertension" json:"hypertension"`
	HeartDisease Flag   `bson:"heartDisease" json:"heartDisease"`
	Asthma       Flag   `bson:"asthma" json:"asthma"`
	Allergies    Flag   `bson:"allergies" json:"allergies"`
	Smoker       Flag   `bson:"smoker" json:"smoker"`
	Alcohol      Flag   `bson:"alcohol" json:"alcohol"`
}

// DefaultProfile is the attribute set a freshly registered user starts with.
func DefaultProfile() Profile {
	return Profile{
		Diabetes:     FlagNo,
		Hypertension: FlagNo,
		HeartDisease: FlagNo,
		Asthma:       FlagNo,
		Allergies:    FlagNo,
		Smoker:       FlagNo,
		Alcohol:      FlagNo,
	}
}

// withDefaults reads an unanswered flag as FlagNo.
func (p Profile) withDefaults() Profile {
	for _, f := range []*Flag{&p.Diabetes, &p.Hypertension, &p.HeartDisease, &p.Asthma, &p.Allergies, &p.Smoker, &p.Alcohol} {
		if *f == "" {
			*f = FlagNo
		}
	}
	return p
}

type User struct {
	Email        string    `bson:"_id"`
	PasswordHash string    `bson:"password"`
	Profile      Profile   `bson:"profile"`
	Revision     int64     `bson:"rev"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

type Purpose string

const (
	PurposeRegister Purpose = "register"
	PurposeReset    Purpose = "reset"
)

// Verification is a pending emailed code. Only the SHA-256 of the code is stored.
// PasswordHash carries the provisional credential of a registration until it is confirmed.
type Verification struct {
	Email        string    `bson:"email"`
	Purpose      Purpose   `bson:"purpose"`
	CodeHash     string    `bson:"code"`
	PasswordHash string    `bson:"password,omitempty"`
	IssuedAt     time.Time `bson:"issuedAt"`
	ExpiresAt    time.Time `bson:"expiresAt"`
}

func (v *Verification) Expired(now time.Time) bool {
	return !v.ExpiresAt.After(now)
}
