package example

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fxpool/fxwsock"
)

// Example 1: Encrypted echo between a server and a client using ephemeral keys
func ExampleEcho() {
	fmt.Println("=== Example 1: Encrypted Echo ===")

	ctx := context.Background()

	serverCfg := &fxwsock.Config{
		Engine: fxwsock.EngineConfig{UseEphemeralKey: true},
	}
	server, err := fxwsock.NewServer(ctx, ":8081", serverCfg, func(s *fxwsock.Session) {
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			fmt.Printf("Server received: %s\n", payload)
			s.Send(payload)
		}
	})
	if err != nil {
		log.Fatal("Server setup error:", err)
	}
	go func() {
		if err := server.Run(); err != nil {
			log.Fatal("Server run error:", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	clientCfg := &fxwsock.Config{
		Engine: fxwsock.EngineConfig{UseEphemeralKey: true},
		Host:   "localhost:8081",
	}
	client, err := fxwsock.NewClient(ctx, clientCfg)
	if err != nil {
		log.Fatal("Client setup error:", err)
	}

	done := make(chan struct{})
	sess, err := client.Dial("localhost:8081", func(s *fxwsock.Session) {
		s.OnOpen = func(s *fxwsock.Session) {
			s.Send([]byte("Hello over the encrypted channel"))
		}
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			fmt.Printf("Client received: %s\n", payload)
			close(done)
		}
	})
	if err != nil {
		log.Fatal("Client dial error:", err)
	}
	defer sess.Close()

	<-done
	server.Shutdown(ctx)
}

// Example 2: Server with a long-lived key loaded from PEM
func ExampleWithPEMKey() {
	fmt.Println("\n=== Example 2: PEM Key Usage ===")

	// Generate and save the key pair (pre-generated in real deployments)
	key, _ := fxwsock.GenerateKey(nil)
	keyPEM, _ := fxwsock.EncodePrivateKey(key)
	fmt.Printf("Server Private Key PEM:\n%s\n", keyPEM)

	serverKey, err := fxwsock.DecodePrivateKey(keyPEM)
	if err != nil {
		log.Fatal("Key decode error:", err)
	}

	ctx := context.Background()
	serverCfg := &fxwsock.Config{
		Engine: fxwsock.EngineConfig{PrivateKey: serverKey},
	}
	server, err := fxwsock.NewServer(ctx, ":8082", serverCfg, func(s *fxwsock.Session) {
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			fmt.Printf("PEM server received: %s\n", payload)
			s.Send([]byte("PEM server response"))
		}
	})
	if err != nil {
		log.Fatal("Server setup error:", err)
	}
	go server.Run()

	time.Sleep(100 * time.Millisecond)

	clientCfg := &fxwsock.Config{
		Engine: fxwsock.EngineConfig{UseEphemeralKey: true},
		Host:   "localhost:8082",
	}
	client, _ := fxwsock.NewClient(ctx, clientCfg)

	done := make(chan struct{})
	sess, err := client.Dial("localhost:8082", func(s *fxwsock.Session) {
		s.OnOpen = func(s *fxwsock.Session) {
			s.Send([]byte("Hello from PEM client"))
		}
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			fmt.Printf("PEM client received: %s\n", payload)
			close(done)
		}
	})
	if err != nil {
		log.Fatal("Client dial error:", err)
	}
	defer sess.Close()

	<-done
	server.Shutdown(ctx)
}

// Example 3: Plaintext mode (WebSocket only, no record encryption)
func ExamplePlaintext() {
	fmt.Println("\n=== Example 3: Plaintext Mode ===")

	ctx := context.Background()
	cfg := &fxwsock.Config{Plaintext: true}

	server, err := fxwsock.NewServer(ctx, ":8083", cfg, func(s *fxwsock.Session) {
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			s.Send(payload)
		}
	})
	if err != nil {
		log.Fatal("Server setup error:", err)
	}
	go server.Run()

	time.Sleep(100 * time.Millisecond)

	clientCfg := &fxwsock.Config{Plaintext: true, Host: "localhost:8083"}
	client, _ := fxwsock.NewClient(ctx, clientCfg)

	done := make(chan struct{})
	sess, err := client.Dial("localhost:8083", func(s *fxwsock.Session) {
		s.OnOpen = func(s *fxwsock.Session) {
			s.Send([]byte("plaintext ping"))
		}
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			fmt.Printf("Plaintext client received: %s\n", payload)
			close(done)
		}
	})
	if err != nil {
		log.Fatal("Client dial error:", err)
	}
	defer sess.Close()

	<-done
	server.Shutdown(ctx)
}

// Example 4: Concurrent clients against one server
func ExampleConcurrentClients() {
	fmt.Println("\n=== Example 4: Concurrent Clients ===")

	ctx := context.Background()
	serverCfg := &fxwsock.Config{
		Engine: fxwsock.EngineConfig{UseEphemeralKey: true},
	}
	server, err := fxwsock.NewServer(ctx, ":8084", serverCfg, func(s *fxwsock.Session) {
		s.OnMessage = func(s *fxwsock.Session, payload []byte) {
			s.Send(payload)
		}
	})
	if err != nil {
		log.Fatal("Server setup error:", err)
	}
	go server.Run()

	time.Sleep(100 * time.Millisecond)

	clientCfg := &fxwsock.Config{
		Engine: fxwsock.EngineConfig{UseEphemeralKey: true},
		Host:   "localhost:8084",
	}
	client, _ := fxwsock.NewClient(ctx, clientCfg)

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(id int) {
			received := 0
			done := make(chan struct{})
			sess, err := client.Dial("localhost:8084", func(s *fxwsock.Session) {
				s.OnOpen = func(s *fxwsock.Session) {
					for j := 0; j < 10; j++ {
						s.Send([]byte(fmt.Sprintf("client %d message %d", id, j)))
					}
				}
				s.OnMessage = func(s *fxwsock.Session, payload []byte) {
					received++
					if received == 10 {
						close(done)
					}
				}
			})
			if err != nil {
				log.Printf("Client %d connection error: %v", id, err)
				results <- 0
				return
			}
			<-done
			sess.Close()
			results <- received
		}(i)
	}

	for i := 0; i < 3; i++ {
		fmt.Printf("Client completed with %d echoes\n", <-results)
	}
	server.Shutdown(ctx)
}
