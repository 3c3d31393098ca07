package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/William-King977/TaweLib/internal/config"
	"github.com/William-King977/TaweLib/internal/logging"
	"github.com/William-King977/TaweLib/library"
)

type seedUser struct {
	username  string
	librarian bool
	details   library.ContactDetails
}

// Demo accounts. The first entry must be a librarian so it can register the rest.
var seedUsers = []seedUser{
	{"jsmith", true, library.ContactDetails{FirstName: "John", Surname: "Smith", MobileNumber: "07700 900001",
		Address1: "Singleton Park", City: "Swansea", Postcode: "SA2 8PP"}},
	{"mevans", true, library.ContactDetails{FirstName: "Megan", Surname: "Evans", MobileNumber: "07700 900002",
		Address1: "12 Walter Road", City: "Swansea", Postcode: "SA1 5NF"}},
	{"ahughes", false, library.ContactDetails{FirstName: "Alys", Surname: "Hughes", MobileNumber: "07700 900003",
		Address1: "4 Bryn Road", Address2: "Brynmill", City: "Swansea", Postcode: "SA2 0AP"}},
	{"dthomas", false, library.ContactDetails{FirstName: "Dylan", Surname: "Thomas", MobileNumber: "07700 900004",
		Address1: "5 Cwmdonkin Drive", City: "Swansea", Postcode: "SA2 0RA"}},
	{"rjones", false, library.ContactDetails{FirstName: "Rhian", Surname: "Jones", MobileNumber: "07700 900005",
		Address1: "9 Queen Street", City: "Cardiff", Postcode: "CF10 2BU"}},
}

type seedLoan struct {
	username   string
	copyID     int64
	resourceID int64
	kind       library.ResourceType
	daysAgo    int
	returned   bool
}

var seedLoans = []seedLoan{
	{"ahughes", 101, 1, library.Book, 20, true},  // six days late
	{"ahughes", 201, 2, library.DVD, 3, false},   // on loan
	{"dthomas", 301, 3, library.Laptop, 5, true}, // two days late
	{"dthomas", 102, 1, library.Book, 2, false},  // on loan
	{"rjones", 103, 4, library.Book, 1, false},   // on loan
}

func main() {
	cfg, err := config.Load(os.Getenv("TAWELIB_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Cleaning up existing data files...")
	for _, name := range []string{"users.txt", "librarians.txt", "loans.txt", "transactions.txt", "requests.txt",
		"journal.json", "tawelib.db", "tawelib.db-shm", "tawelib.db-wal", "tawelib.db.journal"} {
		if err := os.Remove(filepath.Join(cfg.DataDir, name)); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Warning: Could not remove %s: %v\n", name, err)
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", cfg.DataDir, err)
		os.Exit(1)
	}
	fmt.Println("Cleanup complete.")

	lc, err := cfg.Library()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	lc.Logger = logging.Setup(cfg.LogLevel)
	manager, err := library.NewLibraryManager(lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening library: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	var admin library.Session
	successCount, errorCount := 0, 0
	for _, u := range seedUsers {
		fmt.Printf("Registering %s... ", u.username)
		p, err := manager.RegisterUser(admin, library.NewUser{Username: u.username, ContactDetails: u.details}, u.librarian)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		if p.IsLibrarian() && admin.Username == "" {
			if admin, err = manager.Login(p.Username); err != nil {
				fmt.Printf("ERROR - %v\n", err)
				errorCount++
				continue
			}
		}
		fmt.Println("SUCCESS")
		successCount++
	}

	today := library.Day(time.Now())
	for _, l := range seedLoans {
		fmt.Printf("Lending copy %d to %s... ", l.copyID, l.username)
		loan, err := manager.Checkout(admin, library.LoanDraft{
			CopyID:       l.copyID,
			ResourceID:   l.resourceID,
			Username:     l.username,
			ResourceType: l.kind,
			CheckoutDate: today.AddDate(0, 0, -l.daysAgo),
		})
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		if l.returned {
			res, err := manager.ReturnLoan(admin, loan.LoanID)
			if err != nil {
				fmt.Printf("ERROR - %v\n", err)
				errorCount++
				continue
			}
			if res.Fine != nil {
				fmt.Printf("returned %d day(s) late, fined £%s... ", res.DaysLate, res.Fine.Amount)
			}
		}
		fmt.Printf("SUCCESS (loan %d)\n", loan.LoanID)
		successCount++
	}

	if _, err := manager.PlaceRequest(admin, "rjones", 2); err != nil {
		fmt.Printf("Error placing request: %v\n", err)
		errorCount++
	}

	fmt.Printf("\nSeeding complete!\n")
	fmt.Printf("Successful steps: %d\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	owing, err := manager.ListOutstandingFines()
	if err != nil {
		fmt.Printf("Error retrieving fines: %v\n", err)
		return
	}
	if len(owing) > 0 {
		fmt.Println("\nOutstanding fines:")
		fmt.Printf("%-12s %-30s %s\n", "Username", "Name", "Owes")
		fmt.Println(strings.Repeat("-", 52))
		for _, f := range owing {
			fmt.Printf("%-12s %-30s £%s\n", f.Profile.Username, truncateString(f.Profile.FirstName+" "+f.Profile.Surname, 30), f.Balance)
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
