package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/William-King977/TaweLib/internal/logging"
	"github.com/William-King977/TaweLib/library"

	"github.com/spf13/cobra"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			sh := &shell{
				a:       a,
				sc:      bufio.NewScanner(in),
				w:       cmd.OutOrStdout(),
				sess:    sess,
				prompts: in == os.Stdin && logging.IsTerminal(os.Stdin),
			}
			sh.run()
			return nil
		},
	}
}

type shell struct {
	a       *app
	sc      *bufio.Scanner
	w       io.Writer
	sess    library.Session
	prompts bool
}

var shellHelp = []string{
	"  Profiles: login, whoami, list users, show user, register, edit profile",
	"  Fines: list fines, pay fine, history",
	"  Circulation: checkout, return, list loans",
	"  Requests: request, reserve, fill, list requests",
	"  System: verify, stats, help, exit",
}

func (s *shell) run() {
	fmt.Fprintln(s.w, "Welcome to TaweLib!")
	if s.sess.Username != "" {
		fmt.Fprintf(s.w, "Logged in as %s\n", s.sess.Username)
	}
	fmt.Fprintln(s.w, "Available commands:")
	for _, l := range shellHelp {
		fmt.Fprintln(s.w, l)
	}

	for {
		if s.prompts {
			fmt.Fprint(s.w, "\n> ")
		}
		if !s.sc.Scan() {
			break
		}
		cmd := strings.TrimSpace(s.sc.Text())

		var err error
		switch cmd {
		case "":
			continue
		case "login":
			err = s.login()
		case "whoami":
			s.whoami()
		case "list users":
			err = s.listUsers()
		case "show user":
			err = s.showUser()
		case "register":
			err = s.register()
		case "edit profile":
			err = s.editProfile()
		case "list fines":
			err = s.listFines()
		case "pay fine":
			err = s.payFine()
		case "history":
			err = s.history()
		case "checkout":
			err = s.checkout()
		case "return":
			err = s.returnLoan()
		case "list loans":
			err = s.listLoans()
		case "request":
			err = s.request()
		case "reserve":
			err = s.reserve()
		case "fill":
			err = s.fill()
		case "list requests":
			err = s.listRequests()
		case "verify":
			err = s.verify()
		case "stats":
			err = s.a.rec.WriteText(s.w)
		case "help":
			for _, l := range shellHelp {
				fmt.Fprintln(s.w, l)
			}
		case "exit", "quit":
			fmt.Fprintln(s.w, "Goodbye!")
			return
		default:
			fmt.Fprintln(s.w, "Unknown command. Type 'help' for the list of commands.")
		}
		if err != nil && !errors.Is(err, errAborted) {
			fmt.Fprintf(s.w, "Error: %v\n", err)
		}
	}
}

var errAborted = errors.New("input closed")

// ask prompts for one line.
func (s *shell) ask(label string) (string, error) {
	if s.prompts {
		fmt.Fprintf(s.w, "%s: ", label)
	}
	if !s.sc.Scan() {
		return "", errAborted
	}
	return strings.TrimSpace(s.sc.Text()), nil
}

func (s *shell) askID(label, what string) (int64, error) {
	v, err := s.ask(label)
	if err != nil {
		return 0, err
	}
	return parseID(v, what)
}

// askDefault keeps def when the answer is empty.
func (s *shell) askDefault(label, def string) (string, error) {
	if def != "" {
		label = fmt.Sprintf("%s [%s]", label, def)
	}
	v, err := s.ask(label)
	if err != nil || v == "" {
		return def, err
	}
	return v, nil
}

func (s *shell) login() error {
	username, err := s.ask("Username")
	if err != nil {
		return err
	}
	sess, err := s.a.lm.Login(username)
	if err != nil {
		return err
	}
	s.sess = sess
	fmt.Fprintf(s.w, "Logged in as %s\n", username)
	return nil
}

func (s *shell) whoami() {
	switch {
	case s.sess.Username == "":
		fmt.Fprintln(s.w, "Not logged in.")
	case s.sess.IsLibrarian():
		fmt.Fprintf(s.w, "%s (librarian, staff ID %d)\n", s.sess.Username, s.sess.Staff.StaffID)
	default:
		fmt.Fprintf(s.w, "%s (member)\n", s.sess.Username)
	}
}

func (s *shell) listUsers() error {
	profiles, err := s.a.lm.ListProfiles()
	if err != nil {
		return err
	}
	printProfiles(s.w, profiles)
	return nil
}

func (s *shell) showUser() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	p, err := s.a.lm.GetProfile(username)
	if err != nil {
		return err
	}
	printProfile(s.w, p)
	return nil
}

func (s *shell) askDetails(cur library.ContactDetails) (library.ContactDetails, error) {
	fields := []struct {
		label string
		v     *string
	}{
		{"First name", &cur.FirstName},
		{"Surname", &cur.Surname},
		{"Mobile number", &cur.MobileNumber},
		{"Address line 1", &cur.Address1},
		{"Address line 2 (optional)", &cur.Address2},
		{"City", &cur.City},
		{"Postcode", &cur.Postcode},
	}
	for _, f := range fields {
		v, err := s.askDefault(f.label, *f.v)
		if err != nil {
			return cur, err
		}
		*f.v = v
	}
	return cur, nil
}

func (s *shell) register() error {
	username, err := s.ask("Username")
	if err != nil {
		return err
	}
	details, err := s.askDetails(library.ContactDetails{})
	if err != nil {
		return err
	}
	role, err := s.askDefault("Librarian? (y/n)", "n")
	if err != nil {
		return err
	}
	p, err := s.a.lm.RegisterUser(s.sess, library.NewUser{Username: username, ContactDetails: details},
		strings.HasPrefix(strings.ToLower(role), "y"))
	if err != nil {
		return err
	}
	if p.IsLibrarian() {
		fmt.Fprintf(s.w, "Registered librarian '%s' with staff ID %d\n", p.Username, p.Staff.StaffID)
	} else {
		fmt.Fprintf(s.w, "Registered member '%s'\n", p.Username)
	}
	return nil
}

func (s *shell) editProfile() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	e, err := s.a.lm.BeginEdit(username)
	if err != nil {
		return err
	}
	details, err := s.askDetails(e.Profile().Details())
	if err != nil {
		return err
	}
	picture, err := s.askDefault("Profile picture", e.Profile().ProfilePicture)
	if err != nil {
		return err
	}
	p, err := s.a.lm.SaveEdit(s.sess, e, library.ProfileChanges{ContactDetails: details, ProfilePicture: picture})
	if errors.Is(err, library.ErrStaleWrite) {
		return fmt.Errorf("%s's profile changed while you were editing; run 'edit profile' again", username)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "Updated profile for '%s'\n", p.Username)
	return nil
}

func (s *shell) listFines() error {
	owing, err := s.a.lm.ListOutstandingFines()
	if err != nil {
		return err
	}
	printFines(s.w, owing)
	return nil
}

func (s *shell) payFine() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	raw, err := s.ask("Amount (£)")
	if err != nil {
		return err
	}
	amount, err := library.ParseMoney(strings.TrimPrefix(raw, "£"))
	if err != nil {
		return err
	}
	balance, err := s.a.lm.PayFine(s.sess, username, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "Paid £%s. Remaining balance: £%s\n", amount, balance)
	return nil
}

func (s *shell) history() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	txs, err := s.a.lm.ListTransactionsFor(username)
	if err != nil {
		return err
	}
	printTransactions(s.w, txs)
	return nil
}

func (s *shell) checkout() error {
	var args [4]string
	for i, label := range []string{"Username", "Copy ID", "Resource ID", "Type (book/dvd/laptop)"} {
		v, err := s.ask(label)
		if err != nil {
			return err
		}
		args[i] = v
	}
	due, err := s.ask("Due date (YYYY-MM-DD, blank for default, 'ref' for reference)")
	if err != nil {
		return err
	}
	reference := strings.EqualFold(due, "ref")
	if reference {
		due = ""
	}
	d, err := loanDraft(args[:], due, reference)
	if err != nil {
		return err
	}
	loan, err := s.a.lm.Checkout(s.sess, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "Loan %d: copy %d to '%s', due %s\n", loan.LoanID, loan.CopyID, loan.Username, dueString(loan))
	return nil
}

func (s *shell) returnLoan() error {
	id, err := s.askID("Loan ID", "loan")
	if err != nil {
		return err
	}
	res, err := s.a.lm.ReturnLoan(s.sess, id)
	if err != nil {
		return err
	}
	printReturn(s.w, res)
	return nil
}

func (s *shell) listLoans() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	loans, err := s.a.lm.ListLoansFor(username, true)
	if err != nil {
		return err
	}
	printLoans(s.w, loans)
	return nil
}

func (s *shell) request() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	id, err := s.askID("Resource ID", "resource")
	if err != nil {
		return err
	}
	req, err := s.a.lm.PlaceRequest(s.sess, username, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "Request %d placed for resource %d\n", req.RequestID, req.ResourceID)
	return nil
}

func (s *shell) reserve() error {
	id, err := s.askID("Request ID", "request")
	if err != nil {
		return err
	}
	req, err := s.a.lm.Reserve(s.sess, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.w, "Request %d is now %s\n", req.RequestID, req.State())
	return nil
}

func (s *shell) fill() error {
	id, err := s.askID("Resource ID", "resource")
	if err != nil {
		return err
	}
	req, ok, err := s.a.lm.FillNext(s.sess, id)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(s.w, "Nobody is waiting for resource %d\n", id)
		return nil
	}
	fmt.Fprintf(s.w, "Request %d filled for '%s'\n", req.RequestID, req.Username)
	return nil
}

func (s *shell) listRequests() error {
	username, err := s.askDefault("Username", s.sess.Username)
	if err != nil {
		return err
	}
	reqs, err := s.a.lm.ListPendingRequestsFor(username)
	if err != nil {
		return err
	}
	printRequests(s.w, reqs)
	return nil
}

func (s *shell) verify() error {
	r, err := s.a.lm.Verify()
	if err != nil {
		return err
	}
	printReport(s.w, r)
	return nil
}
