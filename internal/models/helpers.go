package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func GenerateQueueID() string {
	return fmt.Sprintf("q_%s_%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

func GenerateSessionID() string {
	return fmt.Sprintf("sess_%s_%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

func GenerateTransactionID() string {
	return fmt.Sprintf("tx_%s_%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

func GenerateEventID() string {
	return uuid.New().String()
}

func FormatCurrency(cents float64) string {
	return fmt.Sprintf("$%.2f", cents/100)
}
