package model

import "time"

// Activity is one entry of the sandbox's sample protected listing.
type Activity struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"startsAt"`
	Organizer string    `json:"organizer"`
}
