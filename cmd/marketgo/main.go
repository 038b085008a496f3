package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"marketgo/internal/app"
	"marketgo/internal/bus"
	"marketgo/internal/chat"
	"marketgo/internal/config"
	"marketgo/internal/events"
	"marketgo/internal/realtime"
	"marketgo/internal/wire"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run marketgo", "error", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "", "marketplace server base url, e.g. https://shop.example.com")
	token := flag.String("token", "", "bearer token for authorized endpoints")
	userID := flag.String("user", "", "user id")
	role := flag.String("role", wire.UserTypeCustomer, "role: customer or merchant")
	shopID := flag.String("shop", "", "own shop id (merchants only)")
	customerID := flag.String("customer", "", "conversation customer id (merchants; defaults to --user for customers)")
	peerShopID := flag.String("peer-shop", "", "conversation shop id")
	productID := flag.String("product", "", "optional product id narrowing the conversation context")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*server) != "" {
		cfg.Server.BaseURL = strings.TrimSpace(*server)
	}
	if strings.TrimSpace(*token) != "" {
		cfg.Server.Token = strings.TrimSpace(*token)
	}
	if strings.TrimSpace(*userID) == "" {
		return errors.New("missing user id: set --user")
	}
	if *role == wire.UserTypeMerchant && strings.TrimSpace(*shopID) == "" {
		return errors.New("merchants must set --shop")
	}

	identity := realtime.Identity{UserID: *userID, Role: *role, ShopID: *shopID}
	runtime, err := app.NewRuntime(ctx, cfg, identity, paths)
	if err != nil {
		return err
	}
	defer runtime.Close()

	logger := runtime.Logger
	logger.Info("starting marketgo", "user_id", identity.UserID, "role", identity.Role)

	printConnState(ctx, runtime.Bus)
	printOrders(ctx, runtime)

	if err := runtime.Start(ctx); err != nil {
		return err
	}

	key, haveSession := sessionFromFlags(identity, *customerID, *peerShopID, *productID)
	if haveSession {
		if _, err := runtime.Chat.LoadHistory(ctx, key); err != nil {
			logger.Warn("history fetch failed", "error", err)
		}
		runtime.Chat.JoinChat(key)
		printThread(runtime, key)
	}

	go printIncoming(ctx, runtime.Bus, identity.UserID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if !haveSession {
			fmt.Println("no conversation selected: set --peer-shop (and --customer for merchants)")

			continue
		}
		if _, err := runtime.Chat.SendMessage(ctx, key, line); err != nil {
			var sendErr *chat.SendError
			if errors.As(err, &sendErr) {
				fmt.Printf("!! not delivered, draft restored: %q\n", sendErr.Draft)

				continue
			}
			logger.Warn("send failed", "error", err)
		}
	}

	return scanner.Err()
}

func sessionFromFlags(identity realtime.Identity, customerID, peerShopID, productID string) (chat.SessionKey, bool) {
	shop := strings.TrimSpace(peerShopID)
	if shop == "" {
		return chat.SessionKey{}, false
	}
	customer := strings.TrimSpace(customerID)
	if identity.Role == wire.UserTypeCustomer {
		customer = identity.UserID
	}
	if customer == "" {
		return chat.SessionKey{}, false
	}

	return chat.SessionKey{CustomerID: customer, ShopID: shop, ProductID: strings.TrimSpace(productID)}, true
}

func printConnState(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(events.TopicUIConnState)
	go func() {
		defer b.Unsubscribe(sub, events.TopicUIConnState)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				state, ok := msg.(events.UIConnState)
				if !ok {
					continue
				}
				switch {
				case state.Connected:
					fmt.Println("-- live")
				case state.Connecting:
					fmt.Println("-- connecting...")
				default:
					fmt.Println("-- offline")
				}
			}
		}
	}()
}

func printIncoming(ctx context.Context, b bus.MessageBus, selfID string) {
	sub := b.Subscribe(events.TopicChatMessage)
	defer b.Unsubscribe(sub, events.TopicChatMessage)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			m, ok := msg.(wire.Message)
			if !ok || m.SenderID == selfID {
				continue
			}
			fmt.Printf("[%s] %s\n", m.SenderID, m.Body)
		}
	}
}

func printOrders(ctx context.Context, runtime *app.Runtime) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-runtime.Orders.Updates():
				if !ok {
					return
				}
				fmt.Printf("** order %s: %s -> %s\n", update.OrderID, update.PreviousStatus, update.NewStatus)
			}
		}
	}()
}

func printThread(runtime *app.Runtime, key chat.SessionKey) {
	for _, m := range runtime.Store.Messages(key.ConversationID()) {
		fmt.Printf("[%s] %s\n", m.SenderID, m.Body)
	}
}
