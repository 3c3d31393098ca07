package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/William-King977/TaweLib/internal/backup"
	"github.com/William-King977/TaweLib/library"

	"github.com/spf13/cobra"
)

// ------------------ Users ------------------

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "List, register and edit profiles"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every member and librarian",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles, err := a.lm.ListProfiles()
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), profiles)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <username>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.lm.GetProfile(args[0])
			if err != nil {
				return err
			}
			printProfile(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var (
		reg       library.ContactDetails
		librarian bool
	)
	register := &cobra.Command{
		Use:   "register <username>",
		Short: "Register a member, or a librarian with --librarian",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			p, err := a.lm.RegisterUser(sess, library.NewUser{Username: args[0], ContactDetails: reg}, librarian)
			if err != nil {
				return err
			}
			if p.IsLibrarian() {
				fmt.Fprintf(cmd.OutOrStdout(), "Registered librarian '%s' with staff ID %d\n", p.Username, p.Staff.StaffID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Registered member '%s'\n", p.Username)
			}
			return nil
		},
	}
	detailFlags(register, &reg)
	register.Flags().BoolVar(&librarian, "librarian", false, "register a librarian")

	var (
		upd     library.ContactDetails
		picture string
	)
	edit := &cobra.Command{
		Use:   "edit <username>",
		Short: "Change contact details or the profile picture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			e, err := a.lm.BeginEdit(args[0])
			if err != nil {
				return err
			}
			ch := library.ProfileChanges{ContactDetails: mergeDetails(cmd, e.Profile().Details(), upd), ProfilePicture: picture}
			p, err := a.lm.SaveEdit(sess, e, ch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated profile for '%s'\n", p.Username)
			return nil
		},
	}
	detailFlags(edit, &upd)
	edit.Flags().StringVar(&picture, "picture", "", "new profile picture file name")

	cmd.AddCommand(list, show, register, edit)
	return cmd
}

func detailFlags(cmd *cobra.Command, d *library.ContactDetails) {
	f := cmd.Flags()
	f.StringVar(&d.FirstName, "first", "", "first name")
	f.StringVar(&d.Surname, "surname", "", "surname")
	f.StringVar(&d.MobileNumber, "mobile", "", "UK mobile number")
	f.StringVar(&d.Address1, "address1", "", "address line 1")
	f.StringVar(&d.Address2, "address2", "", "address line 2 (optional)")
	f.StringVar(&d.City, "city", "", "city")
	f.StringVar(&d.Postcode, "postcode", "", "postcode")
}

// mergeDetails overlays the flags the user actually set on cur.
func mergeDetails(cmd *cobra.Command, cur, set library.ContactDetails) library.ContactDetails {
	f := cmd.Flags()
	for name, pair := range map[string][2]*string{
		"first":    {&cur.FirstName, &set.FirstName},
		"surname":  {&cur.Surname, &set.Surname},
		"mobile":   {&cur.MobileNumber, &set.MobileNumber},
		"address1": {&cur.Address1, &set.Address1},
		"address2": {&cur.Address2, &set.Address2},
		"city":     {&cur.City, &set.City},
		"postcode": {&cur.Postcode, &set.Postcode},
	} {
		if f.Changed(name) {
			*pair[0] = *pair[1]
		}
	}
	return cur
}

// ------------------ Fines ------------------

func (a *app) finesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "fines", Short: "Outstanding fines, payments and manual fines"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every profile that owes money",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owing, err := a.lm.ListOutstandingFines()
			if err != nil {
				return err
			}
			printFines(cmd.OutOrStdout(), owing)
			return nil
		},
	}

	pay := &cobra.Command{
		Use:   "pay <username> <amount>",
		Short: "Pay towards a balance, e.g. pay alice 2.50",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			amount, err := library.ParseMoney(args[1])
			if err != nil {
				return err
			}
			balance, err := a.lm.PayFine(sess, args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paid £%s for '%s'. Remaining balance: £%s\n", amount, args[0], balance)
			return nil
		},
	}

	var (
		fc      library.FineContext
		resType string
	)
	apply := &cobra.Command{
		Use:   "apply <username> <amount>",
		Short: "Charge a fine by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			amount, err := library.ParseMoney(args[1])
			if err != nil {
				return err
			}
			if resType != "" {
				if fc.ResourceType, err = library.ParseResourceType(strings.ToUpper(resType)); err != nil {
					return err
				}
			}
			balance, err := a.lm.ApplyFine(sess, args[0], amount, fc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fined '%s' £%s. Balance: £%s\n", args[0], amount, balance)
			return nil
		},
	}
	apply.Flags().Int64Var(&fc.LoanID, "loan", 0, "loan the fine is for")
	apply.Flags().Int64Var(&fc.ResourceID, "resource", 0, "resource the fine is for")
	apply.Flags().StringVar(&resType, "type", "", "resource type: book, dvd or laptop")

	cmd.AddCommand(list, pay, apply)
	return cmd
}

func (a *app) transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "transactions", Short: "Transaction history"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <username>",
		Short: "List a user's fines and payments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txs, err := a.lm.ListTransactionsFor(args[0])
			if err != nil {
				return err
			}
			printTransactions(cmd.OutOrStdout(), txs)
			return nil
		},
	})
	return cmd
}

// ------------------ Loans ------------------

func (a *app) loansCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "loans", Short: "Check out and return copies"}

	var all bool
	list := &cobra.Command{
		Use:   "list <username>",
		Short: "List a user's active loans, or every loan with --all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loans, err := a.lm.ListLoansFor(args[0], all)
			if err != nil {
				return err
			}
			printLoans(cmd.OutOrStdout(), loans)
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include returned loans")

	var (
		due       string
		reference bool
	)
	checkout := &cobra.Command{
		Use:   "checkout <username> <copy-id> <resource-id> <book|dvd|laptop>",
		Short: "Lend a copy",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			d, err := loanDraft(args, due, reference)
			if err != nil {
				return err
			}
			loan, err := a.lm.Checkout(sess, d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loan %d: copy %d to '%s', due %s\n", loan.LoanID, loan.CopyID, loan.Username, dueString(loan))
			return nil
		},
	}
	checkout.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD), default from the loan policy")
	checkout.Flags().BoolVar(&reference, "reference", false, "reference loan with no due date")

	ret := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a loan, charging any overdue fine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "loan")
			if err != nil {
				return err
			}
			res, err := a.lm.ReturnLoan(sess, id)
			if err != nil {
				return err
			}
			printReturn(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.AddCommand(list, checkout, ret)
	return cmd
}

func loanDraft(args []string, due string, reference bool) (library.LoanDraft, error) {
	copyID, err := parseID(args[1], "copy")
	if err != nil {
		return library.LoanDraft{}, err
	}
	resourceID, err := parseID(args[2], "resource")
	if err != nil {
		return library.LoanDraft{}, err
	}
	t, err := library.ParseResourceType(strings.ToUpper(args[3]))
	if err != nil {
		return library.LoanDraft{}, err
	}
	d := library.LoanDraft{CopyID: copyID, ResourceID: resourceID, Username: args[0], ResourceType: t, Reference: reference}
	if due != "" {
		if d.DueDate, err = time.Parse("2006-01-02", due); err != nil {
			return library.LoanDraft{}, fmt.Errorf("due date %q: want YYYY-MM-DD", due)
		}
	}
	return d, nil
}

// ------------------ Requests ------------------

func (a *app) requestsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "Queue for resources"}

	list := &cobra.Command{
		Use:   "list <username>",
		Short: "List a user's pending requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := a.lm.ListPendingRequestsFor(args[0])
			if err != nil {
				return err
			}
			printRequests(cmd.OutOrStdout(), reqs)
			return nil
		},
	}

	place := &cobra.Command{
		Use:   "place <username> <resource-id>",
		Short: "Join the queue for a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			id, err := parseID(args[1], "resource")
			if err != nil {
				return err
			}
			req, err := a.lm.PlaceRequest(sess, args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %d placed for resource %d\n", req.RequestID, req.ResourceID)
			return nil
		},
	}

	reserve := &cobra.Command{
		Use:   "reserve <request-id>",
		Short: "Turn a pending request into a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "request")
			if err != nil {
				return err
			}
			req, err := a.lm.Reserve(sess, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %d is now %s\n", req.RequestID, req.State())
			return nil
		},
	}

	fill := &cobra.Command{
		Use:   "fill <resource-id>",
		Short: "Allocate a copy to the next user in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "resource")
			if err != nil {
				return err
			}
			req, ok, err := a.lm.FillNext(sess, id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Nobody is waiting for resource %d\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %d filled for '%s'\n", req.RequestID, req.Username)
			return nil
		},
	}

	cmd.AddCommand(list, place, reserve, fill)
	return cmd
}

// ------------------ Maintenance ------------------

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check references and balances across every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.lm.Verify()
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return r.Err()
		},
	}
}

func (a *app) backupCmd() *cobra.Command {
	var (
		dir    string
		bucket string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy a consistent snapshot to a directory or S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dst, err := a.backupTarget(ctx, dir, bucket)
			if err != nil {
				return err
			}
			m, err := backup.Run(ctx, a.lm.Store(), dst, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup %s written to %s/%s (%d files)\n", m.RunID, dst, m.Prefix, len(m.Files))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "write to this directory instead of the configured target")
	cmd.Flags().StringVar(&bucket, "s3-bucket", "", "upload to this S3 bucket instead of the configured target")
	return cmd
}

func (a *app) backupTarget(ctx context.Context, dir, bucket string) (backup.Target, error) {
	b := a.cfg.Backup
	switch {
	case dir != "":
		return backup.DirTarget{Dir: dir}, nil
	case bucket != "":
		b.S3.Bucket = bucket
	case b.S3.Bucket == "" && b.Dir != "":
		return backup.DirTarget{Dir: b.Dir}, nil
	case b.S3.Bucket == "":
		return nil, fmt.Errorf("no backup target: set --dir, --s3-bucket or backup in the config")
	}
	return backup.NewS3Target(ctx, backup.S3Config{
		Bucket:    b.S3.Bucket,
		Region:    b.S3.Region,
		Endpoint:  b.S3.Endpoint,
		Prefix:    b.S3.Prefix,
		PathStyle: b.S3.PathStyle,
	})
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, s)
	}
	return id, nil
}

// ------------------ Output ------------------

func printProfiles(w io.Writer, profiles []library.Profile) {
	if len(profiles) == 0 {
		fmt.Fprintln(w, "No users registered.")
		return
	}
	fmt.Fprintf(w, "%-16s %-25s %-15s %-10s %-10s %s\n", "Username", "Name", "Mobile", "Postcode", "Fine", "Role")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, p := range profiles {
		role := "Member"
		if p.IsLibrarian() {
			role = fmt.Sprintf("Librarian (staff %d)", p.Staff.StaffID)
		}
		fmt.Fprintf(w, "%-16s %-25s %-15s %-10s %-10s %s\n",
			truncateString(p.Username, 16), truncateString(p.FirstName+" "+p.Surname, 25),
			p.MobileNumber, p.Postcode, "£"+p.Fine.String(), role)
	}
}

func printProfile(w io.Writer, p library.Profile) {
	fmt.Fprintf(w, "Username:  %s\n", p.Username)
	fmt.Fprintf(w, "Name:      %s %s\n", p.FirstName, p.Surname)
	fmt.Fprintf(w, "Mobile:    %s\n", p.MobileNumber)
	addr := []string{p.Address1}
	if p.Address2 != "" {
		addr = append(addr, p.Address2)
	}
	addr = append(addr, p.City, p.Postcode)
	fmt.Fprintf(w, "Address:   %s\n", strings.Join(addr, ", "))
	fmt.Fprintf(w, "Picture:   %s\n", p.ProfilePicture)
	fmt.Fprintf(w, "Fine:      £%s\n", p.Fine)
	if p.IsLibrarian() {
		fmt.Fprintf(w, "Staff ID:  %d (employed %s)\n", p.Staff.StaffID, p.Staff.EmploymentDate.Format("2006-01-02"))
	}
}

func printFines(w io.Writer, owing []library.FineBalance) {
	if len(owing) == 0 {
		fmt.Fprintln(w, "No outstanding fines.")
		return
	}
	fmt.Fprintf(w, "%-16s %-25s %s\n", "Username", "Name", "Owes")
	fmt.Fprintln(w, strings.Repeat("-", 55))
	for _, f := range owing {
		fmt.Fprintf(w, "%-16s %-25s £%s\n", truncateString(f.Profile.Username, 16),
			truncateString(f.Profile.FirstName+" "+f.Profile.Surname, 25), f.Balance)
	}
}

func printTransactions(w io.Writer, txs []library.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions.")
		return
	}
	for _, t := range txs {
		fmt.Fprintf(w, "%5d  %s\n", t.TransactionID, t.Description())
	}
}

func dueString(l library.Loan) string {
	if !l.HasDueDate() {
		return "never (reference)"
	}
	return l.DueDate.Format("2006-01-02")
}

func printLoans(w io.Writer, loans []library.Loan) {
	if len(loans) == 0 {
		fmt.Fprintln(w, "No loans.")
		return
	}
	fmt.Fprintf(w, "%-6s %-6s %-9s %-7s %-11s %-18s %-6s %s\n", "Loan", "Copy", "Resource", "Type", "Out", "Due", "Staff", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	today := time.Now()
	for _, l := range loans {
		status := "On loan"
		switch {
		case l.Returned:
			status = "Returned"
		case l.Overdue(today):
			status = "Overdue"
		}
		fmt.Fprintf(w, "%-6d %-6d %-9d %-7s %-11s %-18s %-6d %s\n", l.LoanID, l.CopyID, l.ResourceID, l.ResourceType,
			l.CheckoutDate.Format("2006-01-02"), dueString(l), l.StaffID, status)
	}
}

func printReturn(w io.Writer, res library.ReturnResult) {
	fmt.Fprintf(w, "Loan %d returned.\n", res.Loan.LoanID)
	if res.Fine != nil {
		fmt.Fprintf(w, "%d day(s) late: fined £%s. Balance for '%s' is now £%s\n",
			res.DaysLate, res.Fine.Amount, res.Loan.Username, res.Balance)
	}
	if res.FilledRequest != nil {
		fmt.Fprintf(w, "Request %d for resource %d filled for '%s'\n",
			res.FilledRequest.RequestID, res.FilledRequest.ResourceID, res.FilledRequest.Username)
	}
}

func printRequests(w io.Writer, reqs []library.Request) {
	if len(reqs) == 0 {
		fmt.Fprintln(w, "No pending requests.")
		return
	}
	fmt.Fprintf(w, "%-8s %-9s %s\n", "Request", "Resource", "Requested")
	for _, r := range reqs {
		fmt.Fprintf(w, "%-8d %-9d %s\n", r.RequestID, r.ResourceID, r.RequestDate.Format("2006-01-02"))
	}
}

func printReport(w io.Writer, r library.Report) {
	fmt.Fprintf(w, "Checked %d profiles, %d loans, %d transactions, %d requests.\n",
		r.Profiles, r.Loans, r.Transactions, r.Requests)
	if r.OK() {
		fmt.Fprintln(w, "No problems found.")
		return
	}
	for _, is := range r.Issues {
		fmt.Fprintf(w, "  %s\n", is)
	}
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
