package session_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcleod/sealedsession/session"
	"github.com/jmcleod/sealedsession/storage/memory"
)

func Example() {
	ctx := context.Background()
	engine, err := session.New([]byte("a-secret"), memory.New())
	if err != nil {
		panic(err)
	}
	if err := engine.Init(ctx); err != nil {
		panic(err)
	}
	defer engine.Close()

	token, err := engine.Create(ctx, "u1", session.WithMaxAge(time.Hour))
	if err != nil {
		panic(err)
	}

	userID, ok := engine.Confirm(ctx, token)
	fmt.Println(userID, ok)

	_, ok = engine.Confirm(ctx, "a-false-key")
	fmt.Println(ok)
	// Output:
	// u1 true
	// false
}
