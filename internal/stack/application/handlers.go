package application

import "time"

// IndexHandler serves the landing page.
func IndexHandler(_ Request) Response {
	return Response{
		StatusCode:    200,
		StatusMessage: "OK",
		Headers:       map[string]string{"Content-Type": "text/html"},
		Body:          "<html><body><h1>Welcome to the OSI Model Simulation</h1></body></html>",
	}
}

// EchoHandler returns the request body verbatim.
func EchoHandler(req Request) Response {
	return Response{
		StatusCode:    200,
		StatusMessage: "OK",
		Headers:       map[string]string{"Content-Type": "text/plain"},
		Body:          req.Body,
	}
}

// TimeHandler returns the current server time.
func TimeHandler(_ Request) Response {
	return Response{
		StatusCode:    200,
		StatusMessage: "OK",
		Headers:       map[string]string{"Content-Type": "text/plain"},
		Body:          "The current time is: " + time.Now().Format("2006-01-02 15:04:05"),
	}
}
