package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tally-go/internal/app"
	"tally-go/internal/tally"

	"github.com/spf13/cobra"
)

// fieldKind says how a flag value becomes a payload value.
type fieldKind int

const (
	textField fieldKind = iota
	dateField
	amountField
)

// entityField maps a CLI flag to a payload field.
type entityField struct {
	flag  string
	field string
	usage string
	kind  fieldKind
}

// entityCommand describes the add/list/update/delete command group for one kind.
type entityCommand struct {
	use    string
	kind   tally.Kind
	plural string
	fields []entityField
}

var entityCommands = []entityCommand{
	{
		use:    "customer",
		kind:   tally.KindCustomer,
		plural: "customers",
		fields: []entityField{
			{flag: "name", field: "name", usage: "Customer name"},
			{flag: "email", field: "email", usage: "Email address"},
			{flag: "phone", field: "phone", usage: "Phone number"},
			{flag: "address", field: "address", usage: "Postal address"},
			{flag: "tax-id", field: "tax_id", usage: "Tax identifier"},
		},
	},
	{
		use:    "dealer",
		kind:   tally.KindDealer,
		plural: "dealers",
		fields: []entityField{
			{flag: "name", field: "name", usage: "Dealer name"},
			{flag: "contact", field: "contact_name", usage: "Contact person"},
			{flag: "phone", field: "phone", usage: "Phone number"},
			{flag: "region", field: "region", usage: "Sales region"},
		},
	},
	{
		use:    "bank-account",
		kind:   tally.KindBankAccount,
		plural: "bank accounts",
		fields: []entityField{
			{flag: "holder", field: "holder_name", usage: "Account holder"},
			{flag: "bank", field: "bank_name", usage: "Bank name"},
			{flag: "number", field: "account_number", usage: "Account number"},
			{flag: "iban", field: "iban", usage: "IBAN"},
			{flag: "currency", field: "currency", usage: "ISO currency code"},
		},
	},
	{
		use:    "invoice",
		kind:   tally.KindInvoice,
		plural: "invoices",
		fields: []entityField{
			{flag: "customer", field: "customer_id", usage: "Local id of the customer"},
			{flag: "number", field: "number", usage: "Invoice number"},
			{flag: "issued", field: "issue_date", usage: `Issue date ("2024-03-01", "today", "last friday")`, kind: dateField},
			{flag: "due", field: "due_date", usage: `Due date ("2024-03-31", "in 30 days")`, kind: dateField},
			{flag: "amount", field: "amount_cents", usage: "Amount, e.g. 1250.00", kind: amountField},
			{flag: "currency", field: "currency", usage: "ISO currency code"},
			{flag: "status", field: "status", usage: "draft, sent or paid"},
			{flag: "notes", field: "notes", usage: "Free-form notes"},
		},
	},
}

func newEntityCmd(group entityCommand) *cobra.Command {
	root := &cobra.Command{
		Use:   group.use,
		Short: "Manage " + group.plural,
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a record",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := group.flagValues(cmd, time.Now())
			if err != nil {
				return err
			}
			entity, err := buildEntity(group.kind, fields)
			if err != nil {
				return err
			}
			return withApp(cmd, group.use+" add", func(ctx context.Context, a *app.TallyApp) error {
				var row *tally.Row
				var err error
				if invoice, ok := entity.(tally.Invoice); ok {
					row, err = a.Sync().AddInvoice(ctx, invoice)
				} else {
					row, err = a.Sync().Add(ctx, entity)
				}
				if err != nil {
					return err
				}
				fmt.Printf("Added %s %s\n", group.use, row.LocalID)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, group.use+" list", func(ctx context.Context, a *app.TallyApp) error {
				rows, err := a.Sync().List(ctx, group.kind)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Printf("No %s.\n", group.plural)
					return nil
				}
				for _, row := range rows {
					fmt.Println(formatRow(row))
				}
				return nil
			})
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update LOCAL_ID",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := group.flagValues(cmd, time.Now())
			if err != nil {
				return err
			}
			for _, name := range group.clearedFields(cmd) {
				fields[name] = nil
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update")
			}
			return withApp(cmd, group.use+" update", func(ctx context.Context, a *app.TallyApp) error {
				if _, err := a.Sync().Update(ctx, group.kind, args[0], fields); err != nil {
					return err
				}
				fmt.Printf("Updated %s %s\n", group.use, args[0])
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete LOCAL_ID",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, group.use+" delete", func(ctx context.Context, a *app.TallyApp) error {
				if err := a.Sync().Delete(ctx, group.kind, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s %s\n", group.use, args[0])
				return nil
			})
		},
	}

	for _, f := range group.fields {
		addCmd.Flags().String(f.flag, "", f.usage)
		updateCmd.Flags().String(f.flag, "", f.usage)
	}
	updateCmd.Flags().StringSlice("clear", nil, "Flags whose fields should be removed")

	root.AddCommand(addCmd, listCmd, updateCmd, deleteCmd)
	return root
}

// flagValues converts the flags set on cmd into payload fields.
func (group entityCommand) flagValues(cmd *cobra.Command, now time.Time) (map[string]any, error) {
	fields := map[string]any{}
	for _, f := range group.fields {
		if !cmd.Flags().Changed(f.flag) {
			continue
		}
		raw, _ := cmd.Flags().GetString(f.flag)
		value, err := f.parse(raw, now)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", f.flag, err)
		}
		fields[f.field] = value
	}
	return fields, nil
}

// clearedFields maps --clear flag names to payload fields.
func (group entityCommand) clearedFields(cmd *cobra.Command) []string {
	if cmd.Flags().Lookup("clear") == nil {
		return nil
	}
	names, _ := cmd.Flags().GetStringSlice("clear")
	var out []string
	for _, name := range names {
		for _, f := range group.fields {
			if f.flag == name {
				out = append(out, f.field)
			}
		}
	}
	return out
}

func (f entityField) parse(raw string, now time.Time) (any, error) {
	switch f.kind {
	case dateField:
		return parseDate(raw, now)
	case amountField:
		return parseAmount(raw)
	default:
		return strings.TrimSpace(raw), nil
	}
}

// buildEntity decodes payload fields into the concrete entity for kind.
func buildEntity(kind tally.Kind, fields map[string]any) (tally.SyncableEntity, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s fields: %w", kind, err)
	}
	return tally.DecodeEntity(kind, data)
}
