// Command mssqlfixture manages the shared SQL Server container used by integration tests.
package main

import "github.com/streamstore/mssqlfixture/internal/cli"

func main() {
	cli.Main()
}
