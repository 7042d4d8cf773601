// Command visagectl administers a visage gallery from the command line:
// bulk enrollment, recognition of single images, lookups and threshold
// calibration.
package main

func main() {
	Execute()
}
