package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/itchyny/gojq"
	"github.com/kasuto/tokengate/client"
	"github.com/urfave/cli/v2"
)

func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"TOKENGATE_SERVER_URL"},
	}
}

func jsonFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:    "json",
		Aliases: []string{"j"},
		Usage:   "Output as JSON",
	}
}

func filterFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "filter",
		Aliases: []string{"f"},
		Usage:   "jq expression applied to the JSON output (e.g. '.[].name')",
	}
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func productCommands() *cli.Command {
	return &cli.Command{
		Name:  "product",
		Usage: "Catalog commands",
		Subcommands: []*cli.Command{
			productListCommand(),
			productGetCommand(),
			productAddCommand(),
		},
	}
}

func productListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List catalog products",
		Flags:   []cli.Flag{serverFlag(), jsonFlag(), filterFlag()},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), "", nil, cliLogger())

			products, err := cl.ListProducts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list products: %w", err)
			}

			if filter := c.String("filter"); filter != "" {
				return printFiltered(products, filter)
			}
			if c.Bool("json") {
				data, _ := json.MarshalIndent(products, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(products) == 0 {
				fmt.Println("No products found")
				return nil
			}
			fmt.Printf("%-6s %-30s %-15s %s\n", "ID", "NAME", "PRICE", "ACTIVE")
			for _, p := range products {
				fmt.Printf("%-6d %-30s %-15d %v\n", p.ID, p.Name, p.PriceRaw, p.Active)
			}
			return nil
		},
	}
}

func productGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Get details for a specific product",
		ArgsUsage: "PRODUCT_ID",
		Flags:     []cli.Flag{serverFlag(), jsonFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("product id is required")
			}
			var id int64
			if _, err := fmt.Sscanf(c.Args().Get(0), "%d", &id); err != nil {
				return fmt.Errorf("invalid product id %q", c.Args().Get(0))
			}

			cl := client.NewClient(c.String("server"), "", nil, cliLogger())

			product, err := cl.GetProduct(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get product: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(product, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("ID:          %d\n", product.ID)
			fmt.Printf("Name:        %s\n", product.Name)
			fmt.Printf("Description: %s\n", product.Description)
			fmt.Printf("Price (raw): %d\n", product.PriceRaw)
			fmt.Printf("Active:      %v\n", product.Active)
			return nil
		},
	}
}

func productAddCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a catalog product (requires admin token)",
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Product name",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "description",
				Usage: "Product description",
			},
			&cli.Int64Flag{
				Name:     "price",
				Usage:    "Price in raw token units",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Admin bearer token",
				EnvVars: []string{"TOKENGATE_ADMIN_TOKEN"},
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), c.String("admin-token"), nil, cliLogger())

			product, err := cl.CreateProduct(context.Background(),
				c.String("name"), c.String("description"), c.Int64("price"), nil)
			if err != nil {
				return fmt.Errorf("failed to create product: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(product, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("✓ Product created\n")
			fmt.Printf("  ID:    %d\n", product.ID)
			fmt.Printf("  Name:  %s\n", product.Name)
			fmt.Printf("  Price: %d\n", product.PriceRaw)
			return nil
		},
	}
}

func orderCommands() *cli.Command {
	return &cli.Command{
		Name:  "order",
		Usage: "Order commands",
		Subcommands: []*cli.Command{
			orderListCommand(),
			orderCreateCommand(),
		},
	}
}

func orderListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List orders",
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
			filterFlag(),
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Filter by wallet address",
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), "", nil, cliLogger())

			orders, err := cl.ListOrders(context.Background(), c.String("wallet"))
			if err != nil {
				return fmt.Errorf("failed to list orders: %w", err)
			}

			if filter := c.String("filter"); filter != "" {
				return printFiltered(orders, filter)
			}
			if c.Bool("json") {
				data, _ := json.MarshalIndent(orders, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(orders) == 0 {
				fmt.Println("No orders found")
				return nil
			}
			fmt.Printf("%-6s %-46s %-12s %-10s %s\n", "ID", "WALLET", "AMOUNT", "STATUS", "CREATED")
			for _, o := range orders {
				fmt.Printf("%-6d %-46s %-12d %-10s %s\n",
					o.ID, o.WalletAddress, o.AmountRaw, o.Status, o.CreatedAt)
			}
			return nil
		},
	}
}

func orderCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Record an order paid for by an already-settled transaction",
		ArgsUsage: "SIGNATURE WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
			&cli.Int64SliceFlag{
				Name:     "item",
				Usage:    "Product ID to order (repeatable)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("signature and wallet address are required")
			}
			signature := c.Args().Get(0)
			wallet := c.Args().Get(1)

			items := make([]client.OrderItem, 0, len(c.Int64Slice("item")))
			for _, id := range c.Int64Slice("item") {
				items = append(items, client.OrderItem{ProductID: id, Quantity: 1})
			}

			cl := client.NewClient(c.String("server"), "", nil, cliLogger())

			order, err := cl.CreateOrder(context.Background(), signature, wallet, items, nil)
			if err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(order, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("✓ Order created\n")
			fmt.Printf("  ID:     %d\n", order.ID)
			fmt.Printf("  Amount: %d\n", order.AmountRaw)
			fmt.Printf("  Status: %s\n", order.Status)
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a wallet's token balance",
		ArgsUsage: "WALLET_ADDRESS",
		Flags:     []cli.Flag{serverFlag(), jsonFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)

			cl := client.NewClient(c.String("server"), "", nil, cliLogger())

			balance, err := cl.GetBalance(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			printBalance(balance, c.Bool("json"))
			return nil
		},
	}
}

func progressCommand() *cli.Command {
	return &cli.Command{
		Name:  "progress",
		Usage: "Show the treasury's accumulated balance",
		Flags: []cli.Flag{serverFlag(), jsonFlag()},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), "", nil, cliLogger())

			balance, err := cl.GetProgress(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get progress: %w", err)
			}

			printBalance(balance, c.Bool("json"))
			return nil
		},
	}
}

func printBalance(balance *client.Balance, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(balance, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Address: %s\n", balance.Address)
	fmt.Printf("Balance: %.*f (%d raw)\n", balance.Decimals, balance.UI, balance.Raw)
}

// printFiltered marshals v to JSON, runs the jq expression over it, and
// prints each result on its own line.
func printFiltered(v any, filter string) error {
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := result.(error); ok {
			return fmt.Errorf("jq filter error: %w", err)
		}
		switch r := result.(type) {
		case string:
			fmt.Println(r)
		case float64:
			if r == math.Trunc(r) {
				fmt.Printf("%d\n", int64(r))
			} else {
				fmt.Println(r)
			}
		default:
			out, _ := json.Marshal(result)
			fmt.Println(string(out))
		}
	}
	return nil
}
