// Package main provides the entry point for the imgcatcher CLI.
//
// imgcatcher collects images from online sources (Danbooru, Gelbooru,
// Pixiv) by tag search, filters them by content criteria, and stores the
// results for later use as templates.
//
// Usage:
//
//	imgcatcher crawl --source danbooru "blue_sky"
//	imgcatcher tasks list
//
// See --help for all available options.
package main

// main is the entry point for imgcatcher.
func main() {
	Execute()
}
