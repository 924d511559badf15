/*
Package fixtures loads fetchmock routes from YAML.

	routes:
	  - name: get-user
	    url: "express:/users/:id"
	    method: GET
	    params:
	      id: "42"
	    response:
	      status: 200
	      headers:
	        X-Source: fixture
	      body:
	        id: 42
	        name: Ada
	  - url: "begin:https://api.example.com/slow"
	    delay: 250ms
	    repeat: 1
	    response:
	      status: 504
	fallback:
	  status: 404

A route without a response, or without any matching criteria, is rejected when
the file is applied, exactly as it would be when declared in code.
*/
package fixtures
