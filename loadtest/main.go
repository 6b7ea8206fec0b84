// Command loadtest signs up a crowd of users, spreads them over a few rooms
// and has everyone chat at once.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	baseURL    string
	accessCode string
	userCount  int
	roomCount  int
	msgCount   int
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	Username string `json:"username"`
}

type RoomResponse struct {
	ID string `json:"id"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var (
	sent     atomic.Int64
	received atomic.Int64
	failures atomic.Int64
)

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Stress a crisisflow server with concurrent chatters",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		run()
	},
}

func main() {
	rootCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	rootCmd.Flags().StringVar(&accessCode, "access-code", "", "sign-up code granting the producer or admin role")
	rootCmd.Flags().IntVar(&userCount, "users", 200, "concurrent users") // ⚠️ Start small, SQLite chokes on thousands.
	rootCmd.Flags().IntVar(&roomCount, "rooms", 4, "rooms to spread users over")
	rootCmd.Flags().IntVar(&msgCount, "messages", 20, "messages per user")
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users in %d Rooms, %d Messages each...", userCount, roomCount, msgCount)
	start := time.Now()

	token := authenticate("loadtest_owner", "password123")
	if token == "" {
		log.Fatal("❌ Owner could not sign in")
	}
	rooms := make([]string, 0, roomCount)
	for i := 0; i < roomCount; i++ {
		id := createRoom(token, fmt.Sprintf("Load Test %d", i))
		if id == "" {
			log.Fatal("❌ Could not create rooms")
		}
		rooms = append(rooms, id)
	}

	var wg sync.WaitGroup
	for i := 0; i < userCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			username := fmt.Sprintf("u_%d", n)
			token := authenticate(username, "password123")
			if token == "" {
				failures.Add(1)
				return
			}
			chatter(token, rooms[n%len(rooms)], username)
		}(i)
	}
	wg.Wait()

	log.Printf("✅ LOAD TEST COMPLETE in %s: sent=%d received=%d failures=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load(), failures.Load())
}

// authenticate signs up (ignoring "already taken") and signs in.
func authenticate(username, password string) string {
	if resp, err := postJSON("/signup", "", map[string]string{
		"username": username, "password": password, "access_code": accessCode,
	}); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/signin", "", map[string]string{"username": username, "password": password})
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Printf("❌ Sign-in Failed [%s]: %v", username, err)
		return ""
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token
}

func createRoom(token, name string) string {
	resp, err := postJSON("/api/rooms", token, map[string]any{"room_name": name, "channels": []string{"general"}})
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Printf("❌ Create Room Failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	var data RoomResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

func chatter(token, roomID, user string) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		failures.Add(1)
		return
	}
	defer conn.Close()

	joined := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var once sync.Once
		for {
			var f frame
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Event {
			case "stc_joined":
				once.Do(func() { close(joined) })
			case "stc_message":
				received.Add(1)
			case "recoverable_error":
				log.Printf("⚠️ [%s] %s", user, string(f.Data))
			}
		}
	}()

	roomData, _ := json.Marshal(roomID)
	if err := conn.WriteJSON(frame{Event: "join", Data: roomData}); err != nil {
		failures.Add(1)
		return
	}
	select {
	case <-joined:
	case <-done:
		failures.Add(1)
		return
	}

	for i := 0; i < msgCount; i++ {
		payload, _ := json.Marshal(map[string]any{
			"content": fmt.Sprintf("LoadTest Msg %d from %s", i, user),
			"reply":   -1,
		})
		if err := conn.WriteJSON(frame{Event: "cts_message", Data: payload}); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			failures.Add(1)
			break
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	// let the room's traffic drain before hanging up
	time.Sleep(2 * time.Second)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

func postJSON(endpoint, token string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	req, err := http.NewRequest(http.MethodPost, baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
