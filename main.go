/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/alma-store/apiserver/cmd"

func main() {
	cmd.Execute()
}
