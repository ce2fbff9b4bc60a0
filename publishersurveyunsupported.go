//go:build !linux && !darwin && !windows && !openbsd && !netbsd && !freebsd
// +build !linux,!darwin,!windows,!openbsd,!netbsd,!freebsd

package main

import (
	"fmt"
)

func GetInput(prompt string, answer string) string {
	fmt.Println("Survey disabled, due to incompatibility with some platforms:\nFailed to retrieve your choice using default: " + answer)
	return answer
}

func GetSelectInput(prompt string, options []string, answer string) string {
	fmt.Printf("Survey disabled, due to incompatibility with some platforms:\nAvailable choices are [%v] using %v\n", options, answer)
	return answer
}

func GetConfirm(prompt string, answer bool) bool {
	fmt.Printf("Survey disabled, due to incompatibility with some platforms:\nFailed to retrieve your choice using default: %v\n", answer)
	return answer
}
