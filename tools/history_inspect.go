// Command history_inspect dumps the stored chat history as a table.
// It opens the database read-only so it can run next to a live client.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"lan-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/history", "Path to the history database")
	conversation := flag.String("conversation", "", "Only show this conversation (\"*\" for broadcasts)")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Time", "ID", "Author", "Dir", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = repositories.WalkMessages(db, func(_ string, m repositories.DiskMessage) error {
		if *conversation != "" && m.Conversation != *conversation {
			return nil
		}
		direction := "in"
		if m.Outgoing {
			direction = "out"
		}
		table.Append([]string{
			m.Conversation,
			m.At.Local().Format("2006-01-02 15:04:05"),
			m.ID.String()[:8],
			m.Author,
			direction,
			strings.ReplaceAll(m.Content, "\n", " "),
		})
		count++
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d message(s)\n", count)
}
