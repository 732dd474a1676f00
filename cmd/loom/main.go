// Command loom runs, resumes and serves declarative workflows.
package main

func main() {
	Execute()
}
