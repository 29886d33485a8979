package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

// Prints an HS256 token accepted by a server running with
// TASKPULSE_AUTH_MODE=hs256.
func main() {
	user := flag.String("user", "test-user", "subject claim")
	audience := flag.String("aud", os.Getenv("TASKPULSE_AUTH0_AUDIENCE"), "audience claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("TASKPULSE_AUTH_SHARED_SECRET")
	if secret == "" {
		log.Fatal("missing TASKPULSE_AUTH_SHARED_SECRET")
	}

	claims := jwt.MapClaims{
		"sub": *user,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(*ttl).Unix(),
	}
	if *audience != "" {
		claims["aud"] = *audience
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Print(tok)
}
